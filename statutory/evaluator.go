/*
evaluator.go - Bracket evaluation

PURPOSE:
  Turn a taxable base and a schedule into a gross liability plus a trace of
  every bracket that contributed. The evaluator is a pure function: no
  store, no clock.

ALGORITHM (progressive and tiered):
  for each bracket, ascending:
      if base <= lower: stop
      portion = min(base, upper) - lower
      contribution = round(portion x rate)       (rate bracket)
                   = fixed_amount                (fixed bracket)
  liability = sum(contributions)

ALGORITHM (banded):
  pick the bracket with lower <= base < upper (or the open top bracket)
  liability = its fixed amount

  Then, for every method: if liability > cap, clamp to cap; if liability <
  floor, raise to floor. Each clamp appends a signed trace line so the trace
  always sums to the liability. The floor applies to a zero base too: a
  statutory minimum is owed whatever the pay.

TRACE:
  Only brackets that contributed a non-zero amount are listed. A 0% band
  the base passes through, or a zero-amount fixed band, leaves no line.

ROUNDING:
  Every contribution is rounded to cents, half-up, before summing. The
  liability is the sum of rounded contributions, so the trace reconciles to
  the cent.

SEE ALSO:
  - validate.go: Bracket invariants assumed here
  - calculator.go: Chooses the base for each deduction
*/
package statutory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Evaluation is the output of Evaluate.
type Evaluation struct {
	GrossLiability decimal.Decimal
	Trace          []BracketContribution
}

// RoundMoney rounds to cents. decimal.Round is half away from zero, which is
// half-up for the non-negative amounts the engine deals in.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Evaluate applies the schedule's brackets to base.
func Evaluate(s RateSchedule, base decimal.Decimal) (Evaluation, error) {
	if base.IsNegative() {
		return Evaluation{}, fmt.Errorf("%w: taxable base %s for %s is negative", ErrInvalidInput, base, s.DeductionType)
	}
	if err := ValidateBrackets(s); err != nil {
		return Evaluation{}, err
	}
	var trace []BracketContribution
	switch s.EffectiveMethod() {
	case MethodBanded:
		trace = evaluateBanded(s.Brackets, base)
	default:
		trace = evaluateProgressive(s.Brackets, base)
	}

	total := decimal.Zero
	for _, c := range trace {
		total = total.Add(c.Amount)
	}

	if s.CapAmount != nil {
		limit := RoundMoney(*s.CapAmount)
		if total.GreaterThan(limit) {
			trace = append(trace, BracketContribution{
				Kind:   TraceCap,
				Index:  -1,
				Amount: limit.Sub(total),
			})
			total = limit
		}
	}
	if s.FloorAmount != nil {
		minimum := RoundMoney(*s.FloorAmount)
		if total.LessThan(minimum) {
			trace = append(trace, BracketContribution{
				Kind:   TraceFloor,
				Index:  -1,
				Amount: minimum.Sub(total),
			})
			total = minimum
		}
	}

	if trace == nil {
		trace = []BracketContribution{}
	}
	return Evaluation{GrossLiability: total, Trace: trace}, nil
}

func evaluateProgressive(brackets []Bracket, base decimal.Decimal) []BracketContribution {
	var trace []BracketContribution
	for i, b := range brackets {
		if base.LessThanOrEqual(b.LowerBound) {
			break
		}
		top := base
		if b.UpperBound != nil && b.UpperBound.LessThan(base) {
			top = *b.UpperBound
		}
		portion := top.Sub(b.LowerBound)

		var amount decimal.Decimal
		if b.Rate != nil {
			amount = RoundMoney(portion.Mul(*b.Rate))
		} else {
			amount = RoundMoney(*b.FixedAmount)
		}
		if amount.IsZero() {
			continue
		}
		trace = append(trace, contribution(i, b, portion, amount))
	}
	return trace
}

func evaluateBanded(brackets []Bracket, base decimal.Decimal) []BracketContribution {
	for i, b := range brackets {
		if base.LessThan(b.LowerBound) {
			// below the first band
			return nil
		}
		if b.UpperBound == nil || base.LessThan(*b.UpperBound) {
			amount := RoundMoney(*b.FixedAmount)
			if amount.IsZero() {
				return nil
			}
			return []BracketContribution{contribution(i, b, base.Sub(b.LowerBound), amount)}
		}
	}
	return nil
}

func contribution(i int, b Bracket, portion, amount decimal.Decimal) BracketContribution {
	return BracketContribution{
		Kind:        TraceBracket,
		Index:       i,
		LowerBound:  b.LowerBound,
		UpperBound:  clonePtr(b.UpperBound),
		Portion:     portion,
		Rate:        clonePtr(b.Rate),
		FixedAmount: clonePtr(b.FixedAmount),
		Amount:      amount,
	}
}
