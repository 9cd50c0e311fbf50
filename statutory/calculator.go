/*
calculator.go - Per-employee deduction orchestration

PURPOSE:
  Compute every statutory deduction a jurisdiction requires for one
  employee and one pay date. Rules run in order so later deductions can
  use earlier results: income tax is levied on pay after pension
  contributions, and levy reliefs are credited against income tax.

FLOW (per rule):
  1. Resolve the schedule (override or pay-date resolution)
  2. Base = rule base kind - net amounts of allowable earlier deductions
  3. Evaluate brackets -> gross liability + trace
  4. Apply reliefs in order against the remaining liability
  5. Net = gross - reliefs, never negative

  Any failure aborts the whole employee: a partial set of deductions is
  never returned.

SEE ALSO:
  - resolver.go, evaluator.go, relief.go: The steps above
  - batch.go: Many employees concurrently
  - audit.go: Persisting what was computed
*/
package statutory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JURISDICTION - Which deductions run, on what base, in what order
// =============================================================================

// BaseKind selects which pay aggregate a deduction is levied on.
type BaseKind string

const (
	BaseGrossTaxable BaseKind = "gross_taxable" // basic + allowances + benefits
	BasePensionable  BaseKind = "pensionable"   // basic + allowances
	BaseGross        BaseKind = "gross"         // everything incl. non-taxable
)

// ReliefRule attaches a relief to a deduction. Basis names an earlier
// deduction whose gross liability is the basis for a percentage relief;
// empty means the deduction's own liability.
type ReliefRule struct {
	Type  ReliefType    `json:"type"`
	Basis DeductionType `json:"basis,omitempty"`
}

// DeductionRule configures one deduction. A rule with EffectiveFrom set does
// not apply to pay dates before it (the deduction did not exist yet) unless
// the input names an override version for it.
type DeductionRule struct {
	Type                DeductionType   `json:"type"`
	Base                BaseKind        `json:"base"`
	AllowableDeductions []DeductionType `json:"allowable_deductions,omitempty"`
	Reliefs             []ReliefRule    `json:"reliefs,omitempty"`
	EffectiveFrom       Date            `json:"effective_from,omitempty"`
}

// AppliesOn reports whether the rule is in force on d.
func (r DeductionRule) AppliesOn(d Date) bool {
	return r.EffectiveFrom.IsZero() || !d.Before(r.EffectiveFrom)
}

// Jurisdiction is the ordered rule set of one tax authority.
type Jurisdiction struct {
	Code  string          `json:"code"`
	Rules []DeductionRule `json:"rules"`
}

// Types lists the configured deductions in rule order.
func (j Jurisdiction) Types() []DeductionType {
	out := make([]DeductionType, len(j.Rules))
	for i, r := range j.Rules {
		out[i] = r.Type
	}
	return out
}

// Clone returns a copy sharing no slices with j.
func (j Jurisdiction) Clone() Jurisdiction {
	out := Jurisdiction{Code: j.Code, Rules: make([]DeductionRule, len(j.Rules))}
	for i, r := range j.Rules {
		r.AllowableDeductions = append([]DeductionType(nil), r.AllowableDeductions...)
		r.Reliefs = append([]ReliefRule(nil), r.Reliefs...)
		out.Rules[i] = r
	}
	return out
}

// Has reports whether t is configured.
func (j Jurisdiction) Has(t DeductionType) bool {
	for _, r := range j.Rules {
		if r.Type == t {
			return true
		}
	}
	return false
}

// Validate checks that every reference points to an earlier rule and that
// no deduction appears twice.
func (j Jurisdiction) Validate() error {
	seen := make(map[DeductionType]bool, len(j.Rules))
	for i, r := range j.Rules {
		if r.Type == "" {
			return fmt.Errorf("%w: rule %d has no deduction type", ErrUnknownDeduction, i)
		}
		if seen[r.Type] {
			return fmt.Errorf("%w: %s is configured twice", ErrInvalidSchedule, r.Type)
		}
		switch r.Base {
		case BaseGrossTaxable, BasePensionable, BaseGross:
		default:
			return fmt.Errorf("%w: %s: unknown base %q", ErrInvalidSchedule, r.Type, r.Base)
		}
		for _, a := range r.AllowableDeductions {
			if !seen[a] {
				return fmt.Errorf("%w: %s allows %s, which is not computed before it", ErrUnknownDeduction, r.Type, a)
			}
		}
		for _, rr := range r.Reliefs {
			if rr.Type == "" {
				return fmt.Errorf("%w: %s has a relief with no type", ErrInvalidRelief, r.Type)
			}
			if rr.Basis != "" && !seen[rr.Basis] {
				return fmt.Errorf("%w: relief %s on %s uses basis %s, which is not computed before it",
					ErrUnknownDeduction, rr.Type, r.Type, rr.Basis)
			}
		}
		seen[r.Type] = true
	}
	return nil
}

func (r DeductionRule) base(in CalculationInput) decimal.Decimal {
	switch r.Base {
	case BasePensionable:
		return in.PensionablePay()
	case BaseGross:
		return in.GrossPay()
	default:
		return in.GrossTaxablePay()
	}
}

// =============================================================================
// CALCULATOR
// =============================================================================

// CalculatorConfig wires a Calculator.
type CalculatorConfig struct {
	Store        Store
	Jurisdiction Jurisdiction
	Logger       *slog.Logger
}

// Calculator computes all deductions for one employee. Safe for concurrent use.
type Calculator struct {
	jurisdiction Jurisdiction
	resolver     *Resolver
	reliefs      *ReliefEngine
	logger       *slog.Logger
}

func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("calculator: store is required")
	}
	if err := cfg.Jurisdiction.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Calculator{
		jurisdiction: cfg.Jurisdiction,
		resolver:     NewResolver(cfg.Store, logger),
		reliefs:      NewReliefEngine(cfg.Store, logger),
		logger:       logger,
	}, nil
}

func (c *Calculator) Jurisdiction() Jurisdiction { return c.jurisdiction }
func (c *Calculator) Resolver() *Resolver { return c.resolver }
func (c *Calculator) Reliefs() *ReliefEngine { return c.reliefs }

// Compute returns one result per rule in force on the pay date, plus any
// overridden rule whether or not it is in force yet. It reads no clock and
// writes nothing: same input and catalog, same output.
func (c *Calculator) Compute(ctx context.Context, in CalculationInput) (Results, error) {
	if len(c.jurisdiction.Rules) == 0 {
		return nil, c.fail(in, "", ErrNoJurisdiction)
	}
	if err := in.Validate(); err != nil {
		return nil, c.fail(in, "", err)
	}
	for t, id := range in.Overrides {
		if !c.jurisdiction.Has(t) {
			return nil, c.fail(in, t, &CalculationOverrideMismatchError{Requested: t, ScheduleID: id})
		}
	}

	results := make(Results, len(c.jurisdiction.Rules))
	for _, rule := range c.jurisdiction.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !rule.AppliesOn(in.PayDate) && in.Overrides[rule.Type] == "" {
			continue
		}
		res, err := c.computeRule(ctx, rule, in, results)
		if err != nil {
			return nil, c.fail(in, rule.Type, err)
		}
		results[rule.Type] = res
	}
	return results, nil
}

func (c *Calculator) computeRule(ctx context.Context, rule DeductionRule, in CalculationInput, prior Results) (DeductionResult, error) {
	overrideID := in.Overrides[rule.Type]
	sched, err := c.resolver.Resolve(ctx, rule.Type, in.PayDate, overrideID)
	if err != nil {
		return DeductionResult{}, err
	}

	base := rule.base(in)
	for _, a := range rule.AllowableDeductions {
		base = base.Sub(prior[a].NetAmount)
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	eval, err := Evaluate(sched, base)
	if err != nil {
		return DeductionResult{}, err
	}

	remaining := eval.GrossLiability
	relief := decimal.Zero
	var applied []ReliefApplication
	for _, rr := range rule.Reliefs {
		basis := eval.GrossLiability
		if rr.Basis != "" {
			basis = prior[rr.Basis].GrossLiability
		}
		app, err := c.reliefs.ApplyOn(ctx, rr.Type, in.PayDate, basis, remaining)
		if err != nil {
			return DeductionResult{}, err
		}
		if app.ReliefID == "" {
			continue
		}
		applied = append(applied, app)
		remaining = remaining.Sub(app.Amount)
		relief = relief.Add(app.Amount)
	}

	net := eval.GrossLiability.Sub(relief)
	if net.IsNegative() {
		net = decimal.Zero
	}

	return DeductionResult{
		DeductionType:    rule.Type,
		ScheduleIDUsed:   sched.ID,
		ScheduleVersion:  sched.Version,
		RegulatorySource: sched.RegulatorySource,
		TaxableBase:      base,
		GrossLiability:   eval.GrossLiability,
		ReliefApplied:    relief,
		NetAmount:        net,
		BracketTrace:     eval.Trace,
		Reliefs:          applied,
		WasOverridden:    overrideID != "",
	}, nil
}

func (c *Calculator) fail(in CalculationInput, t DeductionType, err error) error {
	cerr := &CalculationError{EmployeeID: in.EmployeeID, PayDate: in.PayDate, DeductionType: t, Err: err}
	c.logger.Error("deduction calculation failed",
		"employee", in.EmployeeID, "pay_date", in.PayDate, "deduction", t, "error", err)
	return cerr
}
