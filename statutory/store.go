/*
store.go - Persistence interfaces for the formula catalog and audit log

PURPOSE:
  Defines the interface between the engine and the database. The catalog
  holds every version of every schedule and relief; the audit log holds one
  immutable record per computed deduction.

KEY INTERFACES:
  Store:    Catalog persistence (add, list, close)
  TxStore:  Atomic multi-write operations (supersede, catalog import)
  AuditLog: Append-only calculation audit trail
  JurisdictionStore: The installed deduction rules, so a restart keeps them

APPEND-ONLY CONTRACT:
  - AddSchedule()/AddRelief(): the only ways to introduce a version
  - CloseSchedule()/RepealRelief(): set effective_to on an open-ended
    version, exactly once
  - NO general Update() or Delete() methods exist

WRITE-TIME INVARIANTS:
  Every implementation runs PrepareSchedule/PrepareRelief inside its write
  lock or transaction, so overlapping windows and malformed brackets never
  reach storage.

IMPLEMENTATIONS:
  - statutory/store/memory.go: In-memory for tests and the CLI
  - store/sqlite/sqlite.go: Single-node SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - validate.go: PrepareSchedule, PrepareRelief
  - resolver.go: Uses Generation() to invalidate its cache
*/
package statutory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Formula catalog persistence
// =============================================================================

type Store interface {
	// AddSchedule validates and persists a new version, returning its ID.
	AddSchedule(ctx context.Context, s RateSchedule) (ScheduleID, error)

	// AddRelief validates and persists a new relief version.
	AddRelief(ctx context.Context, r Relief) (ReliefID, error)

	// Schedules returns every version of t ordered by EffectiveFrom.
	Schedules(ctx context.Context, t DeductionType) ([]RateSchedule, error)

	// Reliefs returns every version of t ordered by EffectiveFrom.
	Reliefs(ctx context.Context, t ReliefType) ([]Relief, error)

	// Schedule returns one version by ID or ErrScheduleNotFound.
	Schedule(ctx context.Context, id ScheduleID) (RateSchedule, error)

	// Relief returns one version by ID or ErrReliefNotFound.
	Relief(ctx context.Context, id ReliefID) (Relief, error)

	// CloseSchedule sets effective_to on an open-ended schedule.
	CloseSchedule(ctx context.Context, id ScheduleID, to Date) error

	// RepealRelief sets effective_to on an open-ended relief.
	RepealRelief(ctx context.Context, id ReliefID, to Date) error

	DeductionTypes(ctx context.Context) ([]DeductionType, error)
	ReliefTypes(ctx context.Context) ([]ReliefType, error)

	// Generation increases on every committed catalog write. Caches compare
	// it to decide whether their entries are stale.
	Generation() uint64
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// WithTx runs fn atomically when store supports it, and directly otherwise.
func WithTx(ctx context.Context, store Store, fn func(Store) error) error {
	if tx, ok := store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(store)
}

// =============================================================================
// JURISDICTION - The installed rule set
// =============================================================================

// JurisdictionStore keeps the one installed jurisdiction. Unlike the
// catalog it is replaced wholesale: rules carry no effective window of
// their own beyond DeductionRule.EffectiveFrom.
type JurisdictionStore interface {
	SaveJurisdiction(ctx context.Context, j Jurisdiction) error

	// LoadJurisdiction returns ErrNoJurisdiction when none was saved.
	LoadJurisdiction(ctx context.Context) (Jurisdiction, error)
}

// =============================================================================
// AUDIT LOG - One record per computed deduction
// =============================================================================

// AuditRecord captures which formula produced which amount. Fingerprint is
// a hash of the input and result that Verify recomputes.
type AuditRecord struct {
	ID               string                `json:"id"`
	EmployeeID       string                `json:"employee_id"`
	PeriodID         string                `json:"period_id,omitempty"`
	PayDate          Date                  `json:"pay_date"`
	DeductionType    DeductionType         `json:"deduction_type"`
	ScheduleID       ScheduleID            `json:"schedule_id"`
	ScheduleVersion  int                   `json:"schedule_version"`
	RegulatorySource string                `json:"regulatory_source"`
	ReliefIDs        []ReliefID            `json:"relief_ids,omitempty"`
	WasOverridden    bool                  `json:"was_overridden"`
	TaxableBase      decimal.Decimal       `json:"taxable_base"`
	GrossLiability   decimal.Decimal       `json:"gross_liability"`
	ReliefApplied    decimal.Decimal       `json:"relief_applied"`
	NetAmount        decimal.Decimal       `json:"net_amount"`
	BracketTrace     []BracketContribution `json:"bracket_trace"`
	Fingerprint      string                `json:"fingerprint"`
	ComputedAt       time.Time             `json:"computed_at"`
}

// AuditLog stores audit records. Append-only.
type AuditLog interface {
	// Append persists every record or none.
	Append(ctx context.Context, records []AuditRecord) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

// AuditFilter narrows a Query. Zero fields match everything.
type AuditFilter struct {
	EmployeeID    string
	PeriodID      string
	DeductionType DeductionType
	ScheduleID    ScheduleID
	From          *Date // pay date, inclusive
	To            *Date
	Limit         int
}

// Matches reports whether rec passes the filter (Limit is not considered).
func (f AuditFilter) Matches(rec AuditRecord) bool {
	if f.EmployeeID != "" && rec.EmployeeID != f.EmployeeID {
		return false
	}
	if f.PeriodID != "" && rec.PeriodID != f.PeriodID {
		return false
	}
	if f.DeductionType != "" && rec.DeductionType != f.DeductionType {
		return false
	}
	if f.ScheduleID != "" && rec.ScheduleID != f.ScheduleID {
		return false
	}
	if f.From != nil && rec.PayDate.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.PayDate.After(*f.To) {
		return false
	}
	return true
}
