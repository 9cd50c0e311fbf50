package statutory

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RELIEF ENGINE - Resolve and apply reliefs
// =============================================================================

type reliefKey struct {
	relief ReliefType
	date   Date
}

// ReliefEngine resolves the relief version in force on a pay date and
// computes how much it credits. A repealed relief simply stops resolving
// after its effective_to; payroll is unaffected on either side of the cutoff.
type ReliefEngine struct {
	store  Store
	logger *slog.Logger
	cache  *generationCache[reliefKey, *Relief]
}

func NewReliefEngine(store Store, logger *slog.Logger) *ReliefEngine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReliefEngine{
		store:  store,
		logger: logger,
		cache:  newGenerationCache[reliefKey, *Relief](store.Generation()),
	}
}

// Active returns a copy of the version of t in force on payDate, or nil.
func (e *ReliefEngine) Active(ctx context.Context, t ReliefType, payDate Date) (*Relief, error) {
	key := reliefKey{relief: t, date: payDate}
	gen := e.store.Generation()

	if r, ok := e.cache.get(gen, key); ok {
		return cloneRelief(r), nil
	}

	versions, err := e.store.Reliefs(ctx, t)
	if err != nil {
		return nil, err
	}
	var found *Relief
	for i := range versions {
		if !versions[i].ActiveOn(payDate) {
			continue
		}
		if found != nil {
			return nil, &OverlappingScheduleError{
				Kind:           KindRelief,
				Type:           string(t),
				NewWindow:      versions[i].Window(),
				ExistingID:     string(found.ID),
				ExistingWindow: found.Window(),
			}
		}
		v := versions[i]
		found = &v
	}

	if from, reset := e.cache.put(gen, key, found); reset {
		e.logger.Debug("relief cache invalidated", "from", from, "to", gen)
	}
	return cloneRelief(found), nil
}

func cloneRelief(r *Relief) *Relief {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &c
}

// Apply credits relief t against grossLiability, using the liability itself
// as the basis for percentage reliefs. A missing relief credits zero.
func (e *ReliefEngine) Apply(ctx context.Context, t ReliefType, payDate Date, grossLiability decimal.Decimal) (ReliefApplication, error) {
	return e.ApplyOn(ctx, t, payDate, grossLiability, grossLiability)
}

// ApplyOn is Apply with a separate basis, for reliefs computed on another
// deduction (a levy relief credited against income tax). The credit never
// exceeds remaining.
func (e *ReliefEngine) ApplyOn(ctx context.Context, t ReliefType, payDate Date, basis, remaining decimal.Decimal) (ReliefApplication, error) {
	r, err := e.Active(ctx, t, payDate)
	if err != nil {
		return ReliefApplication{}, err
	}
	if r == nil {
		return ReliefApplication{ReliefType: t, Amount: decimal.Zero}, nil
	}
	amount := ReliefAmount(*r, basis, remaining)
	e.logger.Debug("relief applied", "relief", t, "id", r.ID, "amount", amount.StringFixed(2))
	return ReliefApplication{
		ReliefID:         r.ID,
		ReliefType:       r.ReliefType,
		Amount:           amount,
		RegulatorySource: r.RegulatorySource,
	}, nil
}

// ReliefAmount computes the credit of r: basis x rate for percentage
// reliefs, the flat amount otherwise, then bounded by MaxAmount and by
// the remaining liability.
func ReliefAmount(r Relief, basis, remaining decimal.Decimal) decimal.Decimal {
	if remaining.IsNegative() || remaining.IsZero() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	if r.IsPercentage {
		if basis.IsNegative() {
			basis = decimal.Zero
		}
		amount = RoundMoney(basis.Mul(r.AmountOrRate))
	} else {
		amount = RoundMoney(r.AmountOrRate)
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		amount = RoundMoney(*r.MaxAmount)
	}
	return decimal.Min(amount, remaining)
}
