/*
Package statutory provides the statutory deduction calculation engine.

PURPOSE:
  Statutory deductions (income tax, pension, health and housing levies) are
  defined by legislation that changes over time. This package stores every
  version of every rate schedule and relief with its effective window,
  resolves the version in force on a pay date, and evaluates it against an
  employee's pay. Formulas are data, never code: a Finance Act lands as a
  new schedule row, not a release.

KEY CONCEPTS IN THIS FILE (types.go):
  - RateSchedule: One immutable version of a deduction's brackets
  - Bracket: A band of the taxable base with a rate or a fixed amount
  - Relief: A credit that reduces a computed liability
  - CalculationInput: One employee's pay for one pay date
  - DeductionResult: Outcome of one deduction with its bracket trace

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded half-up to cents
  2. Append-only: versions are added and closed, never edited in place
  3. Determinism: same input and catalog always yields the same result
  4. Auditability: every result names the schedule version and statute used

USAGE:
  resolver := statutory.NewResolver(store)
  sched, err := resolver.Resolve(ctx, statutory.DeductionPAYE, payDate, "")
  eval, err := statutory.Evaluate(sched, taxableBase)

SEE ALSO:
  - validate.go: Bracket and window invariants checked on write
  - resolver.go: Effective-date resolution with caching
  - evaluator.go: Bracket walk, cap and floor
  - calculator.go: Jurisdiction rules and per-employee orchestration
*/
package statutory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// DeductionType names a statutory deduction ("PAYE", "NSSF_TIER1", ...).
// The set is open: jurisdictions register their own.
type DeductionType string

const (
	DeductionPAYE        DeductionType = "PAYE"
	DeductionNSSFTier1   DeductionType = "NSSF_TIER1"
	DeductionNSSFTier2   DeductionType = "NSSF_TIER2"
	DeductionHealthLevy  DeductionType = "HEALTH_LEVY"
	DeductionHousingLevy DeductionType = "HOUSING_LEVY"
)

// ReliefType names a relief ("PERSONAL", "HOUSING_LEVY_RELIEF", ...).
type ReliefType string

const (
	ReliefPersonal    ReliefType = "PERSONAL"
	ReliefHousingLevy ReliefType = "HOUSING_LEVY_RELIEF"
	ReliefHealthLevy  ReliefType = "HEALTH_LEVY_RELIEF"
)

type ScheduleID string
type ReliefID string

// =============================================================================
// RATE SCHEDULE
// =============================================================================

// Method selects how brackets turn a base into a liability.
type Method string

const (
	// MethodProgressive walks every bracket the base reaches. Rate brackets
	// contribute portion x rate; fixed brackets add their amount once reached.
	MethodProgressive Method = "progressive"

	// MethodTiered is progressive with rate-only, fully bounded brackets
	// (pension tiers with an earnings ceiling).
	MethodTiered Method = "tiered"

	// MethodBanded picks the single bracket containing the base and charges
	// its fixed amount (flat-rate health levy tables).
	MethodBanded Method = "banded"
)

// Bracket is one band [LowerBound, UpperBound] of the taxable base.
// Exactly one of Rate and FixedAmount is set. Rate is a fraction (0.25).
type Bracket struct {
	LowerBound  decimal.Decimal  `json:"lower_bound"`
	UpperBound  *decimal.Decimal `json:"upper_bound,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixed_amount,omitempty"`
}

// Unbounded reports whether this is an open top bracket.
func (b Bracket) Unbounded() bool { return b.UpperBound == nil }

// RateBracket builds a percentage bracket. Pass a nil upper for the top band.
func RateBracket(lower decimal.Decimal, upper *decimal.Decimal, rate decimal.Decimal) Bracket {
	return Bracket{LowerBound: lower, UpperBound: upper, Rate: &rate}
}

// FixedBracket builds a fixed-amount bracket.
func FixedBracket(lower decimal.Decimal, upper *decimal.Decimal, amount decimal.Decimal) Bracket {
	return Bracket{LowerBound: lower, UpperBound: upper, FixedAmount: &amount}
}

// Bound returns a pointer to d, for optional bounds and caps.
func Bound(d decimal.Decimal) *decimal.Decimal { return &d }

// Dec parses a decimal literal and panics on malformed input.
// Intended for presets and tests.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// RateSchedule is one version of a deduction's rules. Once stored it is
// immutable apart from closing its open-ended window.
type RateSchedule struct {
	ID               ScheduleID       `json:"id"`
	DeductionType    DeductionType    `json:"deduction_type"`
	Version          int              `json:"version"`
	Method           Method           `json:"method"`
	EffectiveFrom    Date             `json:"effective_from"`
	EffectiveTo      *Date            `json:"effective_to,omitempty"`
	Brackets         []Bracket        `json:"brackets"`
	CapAmount        *decimal.Decimal `json:"cap_amount,omitempty"`
	FloorAmount      *decimal.Decimal `json:"floor_amount,omitempty"`
	RegulatorySource string           `json:"regulatory_source"`
	IsHistorical     bool             `json:"is_historical"`
}

func (s RateSchedule) Window() Window { return Window{From: s.EffectiveFrom, To: s.EffectiveTo} }

// ActiveOn reports whether the schedule is in force on d.
func (s RateSchedule) ActiveOn(d Date) bool { return s.Window().Contains(d) }

// Clone returns a copy that shares no brackets or pointers with s, so a
// store can hand versions out without callers reaching its own state.
func (s RateSchedule) Clone() RateSchedule {
	out := s
	out.EffectiveTo = clonePtr(s.EffectiveTo)
	out.CapAmount = clonePtr(s.CapAmount)
	out.FloorAmount = clonePtr(s.FloorAmount)
	if s.Brackets != nil {
		out.Brackets = make([]Bracket, len(s.Brackets))
		for i, b := range s.Brackets {
			out.Brackets[i] = Bracket{
				LowerBound:  b.LowerBound,
				UpperBound:  clonePtr(b.UpperBound),
				Rate:        clonePtr(b.Rate),
				FixedAmount: clonePtr(b.FixedAmount),
			}
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EffectiveMethod returns the method, defaulting to progressive.
func (s RateSchedule) EffectiveMethod() Method {
	if s.Method == "" {
		return MethodProgressive
	}
	return s.Method
}

// =============================================================================
// RELIEF
// =============================================================================

// Relief is one version of a relief. A percentage relief applies
// AmountOrRate to its basis liability; a flat relief credits AmountOrRate.
type Relief struct {
	ID               ReliefID         `json:"id"`
	ReliefType       ReliefType       `json:"relief_type"`
	AmountOrRate     decimal.Decimal  `json:"amount_or_rate"`
	IsPercentage     bool             `json:"is_percentage"`
	MaxAmount        *decimal.Decimal `json:"max_amount,omitempty"`
	EffectiveFrom    Date             `json:"effective_from"`
	EffectiveTo      *Date            `json:"effective_to,omitempty"`
	RegulatorySource string           `json:"regulatory_source"`
}

func (r Relief) Window() Window { return Window{From: r.EffectiveFrom, To: r.EffectiveTo} }

// Clone returns a copy that shares no pointers with r.
func (r Relief) Clone() Relief {
	out := r
	out.MaxAmount = clonePtr(r.MaxAmount)
	out.EffectiveTo = clonePtr(r.EffectiveTo)
	return out
}

// ActiveOn reports whether the relief is in force on d.
func (r Relief) ActiveOn(d Date) bool { return r.Window().Contains(d) }

// =============================================================================
// CALCULATION INPUT / OUTPUT
// =============================================================================

// CalculationInput is one employee's pay for one pay date. Overrides pin a
// deduction to a specific schedule version instead of date resolution.
type CalculationInput struct {
	EmployeeID        string                       `json:"employee_id"`
	PeriodID          string                       `json:"period_id,omitempty"`
	BasicPay          decimal.Decimal              `json:"basic_pay"`
	TaxableAllowances decimal.Decimal              `json:"taxable_allowances"`
	TaxableBenefits   decimal.Decimal              `json:"taxable_benefits"`
	NonTaxableTotal   decimal.Decimal              `json:"non_taxable_total"`
	PayDate           Date                         `json:"pay_date"`
	Overrides         map[DeductionType]ScheduleID `json:"overrides,omitempty"`
}

// GrossTaxablePay is basic + taxable allowances + taxable benefits.
func (in CalculationInput) GrossTaxablePay() decimal.Decimal {
	return in.BasicPay.Add(in.TaxableAllowances).Add(in.TaxableBenefits)
}

// PensionablePay is basic + taxable allowances; benefits in kind are excluded.
func (in CalculationInput) PensionablePay() decimal.Decimal {
	return in.BasicPay.Add(in.TaxableAllowances)
}

// GrossPay is every pay component including non-taxable amounts.
func (in CalculationInput) GrossPay() decimal.Decimal {
	return in.GrossTaxablePay().Add(in.NonTaxableTotal)
}

// TraceKind distinguishes bracket contributions from cap/floor adjustments.
type TraceKind string

const (
	TraceBracket TraceKind = "bracket"
	TraceCap     TraceKind = "cap"
	TraceFloor   TraceKind = "floor"
)

// BracketContribution is one line of a bracket trace. Cap and floor lines
// carry a signed Amount so the trace always sums to the gross liability.
type BracketContribution struct {
	Kind        TraceKind        `json:"kind"`
	Index       int              `json:"index"`
	LowerBound  decimal.Decimal  `json:"lower_bound"`
	UpperBound  *decimal.Decimal `json:"upper_bound,omitempty"`
	Portion     decimal.Decimal  `json:"portion"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixed_amount,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
}

// ReliefApplication records one relief credited against a liability.
type ReliefApplication struct {
	ReliefID         ReliefID        `json:"relief_id"`
	ReliefType       ReliefType      `json:"relief_type"`
	Amount           decimal.Decimal `json:"amount"`
	RegulatorySource string          `json:"regulatory_source"`
}

// DeductionResult is the outcome of one deduction for one employee.
type DeductionResult struct {
	DeductionType    DeductionType         `json:"deduction_type"`
	ScheduleIDUsed   ScheduleID            `json:"schedule_id_used"`
	ScheduleVersion  int                   `json:"schedule_version"`
	RegulatorySource string                `json:"regulatory_source"`
	TaxableBase      decimal.Decimal       `json:"taxable_base"`
	GrossLiability   decimal.Decimal       `json:"gross_liability"`
	ReliefApplied    decimal.Decimal       `json:"relief_applied"`
	NetAmount        decimal.Decimal       `json:"net_amount"`
	BracketTrace     []BracketContribution `json:"bracket_trace"`
	Reliefs          []ReliefApplication   `json:"reliefs,omitempty"`
	WasOverridden    bool                  `json:"was_overridden"`
}

// ReliefIDs lists the reliefs that contributed to this result.
func (r DeductionResult) ReliefIDs() []ReliefID {
	ids := make([]ReliefID, 0, len(r.Reliefs))
	for _, a := range r.Reliefs {
		ids = append(ids, a.ReliefID)
	}
	return ids
}

// Results maps each configured deduction to its result.
type Results map[DeductionType]DeductionResult

// Total sums the net amounts of every deduction.
func (r Results) Total() decimal.Decimal {
	total := decimal.Zero
	for _, res := range r {
		total = total.Add(res.NetAmount)
	}
	return total
}

// Types returns the deduction types in lexical order.
func (r Results) Types() []DeductionType {
	types := make([]DeductionType, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Sorted returns the results in lexical deduction-type order.
func (r Results) Sorted() []DeductionResult {
	out := make([]DeductionResult, 0, len(r))
	for _, t := range r.Types() {
		out = append(out, r[t])
	}
	return out
}
