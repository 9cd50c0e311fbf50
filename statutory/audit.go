/*
audit.go - Calculation audit trail

PURPOSE:
  Every computed deduction is persisted with the schedule version, the
  statute it implements, the reliefs credited and the full bracket trace.
  An auditor can answer "why was this employee charged 7,383.35 in March"
  from the record alone, years after the rules changed.

FINGERPRINT:
  Each record carries a keyed BLAKE3 hash over a deterministic CBOR
  encoding of the input and the result. Amounts are encoded as fixed-point
  strings, so the same computation always produces the same bytes.
  Reproduce recomputes the deduction from the live catalog and compares
  fingerprints, detecting both tampered records and catalog drift.

SEE ALSO:
  - store.go: AuditLog, AuditRecord
  - calculator.go: Produces the results recorded here
*/
package statutory

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

// =============================================================================
// FINGERPRINT
// =============================================================================

var fingerprintEncMode cbor.EncMode

// fingerprintKey separates audit fingerprints from any other BLAKE3 use.
var fingerprintKey = blake3.Sum256([]byte("statutory-engine.audit.fingerprint.v1"))

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	fingerprintEncMode, err = opts.EncMode()
	if err != nil {
		panic("statutory: CBOR encoder initialization failed: " + err.Error())
	}
}

type fingerprintTrace struct {
	Kind   TraceKind `cbor:"1,keyasint"`
	Index  int       `cbor:"2,keyasint"`
	Lower  string    `cbor:"3,keyasint"`
	Upper  string    `cbor:"4,keyasint,omitempty"`
	Rate   string    `cbor:"5,keyasint,omitempty"`
	Fixed  string    `cbor:"6,keyasint,omitempty"`
	Amount string    `cbor:"7,keyasint"`
}

type fingerprintPayload struct {
	EmployeeID      string             `cbor:"1,keyasint"`
	PeriodID        string             `cbor:"2,keyasint,omitempty"`
	PayDate         Date               `cbor:"3,keyasint"`
	BasicPay        string             `cbor:"4,keyasint"`
	Allowances      string             `cbor:"5,keyasint"`
	Benefits        string             `cbor:"6,keyasint"`
	NonTaxable      string             `cbor:"7,keyasint"`
	DeductionType   DeductionType      `cbor:"8,keyasint"`
	ScheduleID      ScheduleID         `cbor:"9,keyasint"`
	ScheduleVersion int                `cbor:"10,keyasint"`
	Overridden      bool               `cbor:"11,keyasint"`
	TaxableBase     string             `cbor:"12,keyasint"`
	GrossLiability  string             `cbor:"13,keyasint"`
	ReliefApplied   string             `cbor:"14,keyasint"`
	NetAmount       string             `cbor:"15,keyasint"`
	ReliefIDs       []ReliefID         `cbor:"16,keyasint"`
	Trace           []fingerprintTrace `cbor:"17,keyasint"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Fingerprint hashes one deduction result together with the input that
// produced it.
func Fingerprint(in CalculationInput, res DeductionResult) (string, error) {
	payload := fingerprintPayload{
		EmployeeID:      in.EmployeeID,
		PeriodID:        in.PeriodID,
		PayDate:         in.PayDate,
		BasicPay:        in.BasicPay.String(),
		Allowances:      in.TaxableAllowances.String(),
		Benefits:        in.TaxableBenefits.String(),
		NonTaxable:      in.NonTaxableTotal.String(),
		DeductionType:   res.DeductionType,
		ScheduleID:      res.ScheduleIDUsed,
		ScheduleVersion: res.ScheduleVersion,
		Overridden:      res.WasOverridden,
		TaxableBase:     money(res.TaxableBase),
		GrossLiability:  money(res.GrossLiability),
		ReliefApplied:   money(res.ReliefApplied),
		NetAmount:       money(res.NetAmount),
		ReliefIDs:       res.ReliefIDs(),
		Trace:           make([]fingerprintTrace, 0, len(res.BracketTrace)),
	}
	for _, c := range res.BracketTrace {
		payload.Trace = append(payload.Trace, fingerprintTrace{
			Kind:   c.Kind,
			Index:  c.Index,
			Lower:  c.LowerBound.String(),
			Upper:  optional(c.UpperBound),
			Rate:   optional(c.Rate),
			Fixed:  optional(c.FixedAmount),
			Amount: money(c.Amount),
		})
	}

	data, err := fingerprintEncMode.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode fingerprint payload: %w", err)
	}
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return "", fmt.Errorf("init fingerprint hasher: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder turns results into audit records and appends them.
type Recorder struct {
	Log    AuditLog
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Recorder) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return NewID()
}

// Records builds one record per result without persisting them. Records
// are ordered by deduction type.
func (r *Recorder) Records(in CalculationInput, results Results) ([]AuditRecord, error) {
	at := r.now()
	records := make([]AuditRecord, 0, len(results))
	for _, res := range results.Sorted() {
		fp, err := Fingerprint(in, res)
		if err != nil {
			return nil, err
		}
		records = append(records, AuditRecord{
			ID:               r.newID(),
			EmployeeID:       in.EmployeeID,
			PeriodID:         in.PeriodID,
			PayDate:          in.PayDate,
			DeductionType:    res.DeductionType,
			ScheduleID:       res.ScheduleIDUsed,
			ScheduleVersion:  res.ScheduleVersion,
			RegulatorySource: res.RegulatorySource,
			ReliefIDs:        res.ReliefIDs(),
			WasOverridden:    res.WasOverridden,
			TaxableBase:      res.TaxableBase,
			GrossLiability:   res.GrossLiability,
			ReliefApplied:    res.ReliefApplied,
			NetAmount:        res.NetAmount,
			BracketTrace:     res.BracketTrace,
			Fingerprint:      fp,
			ComputedAt:       at,
		})
	}
	return records, nil
}

// Record persists one record per result atomically.
func (r *Recorder) Record(ctx context.Context, in CalculationInput, results Results) ([]AuditRecord, error) {
	records, err := r.Records(in, results)
	if err != nil {
		return nil, err
	}
	if err := r.Log.Append(ctx, records); err != nil {
		return nil, fmt.Errorf("append audit records: %w", err)
	}
	if r.Logger != nil {
		r.Logger.Info("deductions recorded",
			"employee", in.EmployeeID, "pay_date", in.PayDate, "records", len(records))
	}
	return records, nil
}

// Verification is the outcome of re-checking one audit record.
type Verification struct {
	Record     AuditRecord
	Recomputed string
	Matches    bool
}

// Verify recomputes the fingerprint of rec's deduction from in and results
// and compares it to the stored one.
func (r *Recorder) Verify(rec AuditRecord, in CalculationInput, results Results) (Verification, error) {
	res, ok := results[rec.DeductionType]
	if !ok {
		return Verification{}, fmt.Errorf("%w: %s not present in results", ErrUnknownDeduction, rec.DeductionType)
	}
	fp, err := Fingerprint(in, res)
	if err != nil {
		return Verification{}, err
	}
	return Verification{Record: rec, Recomputed: fp, Matches: fp == rec.Fingerprint}, nil
}

// Reproduce recomputes the deduction from the live catalog and verifies rec
// against it. A mismatch means the record was altered or the catalog
// changed under it.
func (r *Recorder) Reproduce(ctx context.Context, calc *Calculator, in CalculationInput, rec AuditRecord) (Verification, error) {
	results, err := calc.Compute(ctx, in)
	if err != nil {
		return Verification{}, err
	}
	return r.Verify(rec, in, results)
}
