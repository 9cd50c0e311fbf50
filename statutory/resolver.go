/*
resolver.go - Effective-date resolution of rate schedules

PURPOSE:
  Given a deduction type and a pay date, return the one schedule version in
  force that day. An explicit override bypasses date resolution and loads
  the named version, for corrections and retroactive recomputation.

RESOLUTION RULES:
  1. Override set: load by ID, type must match, date is ignored
  2. Otherwise: the unique version with effective_from <= date and
     (effective_to is open or date <= effective_to)
  3. No match: FormulaNotFoundError. There is no fallback.
  4. Several matches: OverlappingScheduleError (catalog corrupted outside
     the write path)

CACHING:
  Date resolutions are cached per (type, date). The cache is discarded when
  the store's Generation() moves forward, so a newly added or closed version
  is visible on the next call. A lookup that read the store under an older
  generation is returned but not cached. Overrides are never cached.
  Callers get their own copy of a cached schedule.

SEE ALSO:
  - store.go: Generation()
  - relief.go: Same resolution rules for reliefs
  - cache.go: generationCache
*/
package statutory

import (
	"context"
	"errors"
	"log/slog"
)

type resolveKey struct {
	deduction DeductionType
	date      Date
}

// Resolver resolves schedules against a Store. Safe for concurrent use.
type Resolver struct {
	store  Store
	logger *slog.Logger
	cache  *generationCache[resolveKey, RateSchedule]
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		store:  store,
		logger: logger,
		cache:  newGenerationCache[resolveKey, RateSchedule](store.Generation()),
	}
}

// Resolve returns the schedule for t on payDate, or the override version
// when overrideID is non-empty.
func (r *Resolver) Resolve(ctx context.Context, t DeductionType, payDate Date, overrideID ScheduleID) (RateSchedule, error) {
	if overrideID != "" {
		return r.resolveOverride(ctx, t, payDate, overrideID)
	}

	key := resolveKey{deduction: t, date: payDate}
	gen := r.store.Generation()
	if s, ok := r.cache.get(gen, key); ok {
		return s.Clone(), nil
	}

	versions, err := r.store.Schedules(ctx, t)
	if err != nil {
		return RateSchedule{}, err
	}
	s, err := pickSchedule(versions, t, payDate)
	if err != nil {
		return RateSchedule{}, err
	}

	if from, reset := r.cache.put(gen, key, s); reset {
		r.logger.Debug("schedule cache invalidated", "from", from, "to", gen)
	}
	return s.Clone(), nil
}

// ResolveAll resolves every type for the same date, failing on the first miss.
func (r *Resolver) ResolveAll(ctx context.Context, types []DeductionType, payDate Date) (map[DeductionType]RateSchedule, error) {
	out := make(map[DeductionType]RateSchedule, len(types))
	for _, t := range types {
		s, err := r.Resolve(ctx, t, payDate, "")
		if err != nil {
			return nil, err
		}
		out[t] = s
	}
	return out, nil
}

func (r *Resolver) resolveOverride(ctx context.Context, t DeductionType, payDate Date, id ScheduleID) (RateSchedule, error) {
	s, err := r.store.Schedule(ctx, id)
	if errors.Is(err, ErrScheduleNotFound) {
		return RateSchedule{}, &FormulaNotFoundError{DeductionType: t, PayDate: payDate, ScheduleID: id}
	}
	if err != nil {
		return RateSchedule{}, err
	}
	if s.DeductionType != t {
		return RateSchedule{}, &CalculationOverrideMismatchError{Requested: t, ScheduleID: id, Actual: s.DeductionType}
	}
	r.logger.Info("schedule override applied",
		"deduction", t, "schedule", id, "version", s.Version, "pay_date", payDate)
	return s, nil
}

func pickSchedule(versions []RateSchedule, t DeductionType, payDate Date) (RateSchedule, error) {
	var found *RateSchedule
	for i := range versions {
		v := versions[i]
		if !v.ActiveOn(payDate) {
			continue
		}
		if found != nil {
			return RateSchedule{}, &OverlappingScheduleError{
				Kind:           KindSchedule,
				Type:           string(t),
				NewWindow:      v.Window(),
				ExistingID:     string(found.ID),
				ExistingWindow: found.Window(),
			}
		}
		found = &versions[i]
	}
	if found == nil {
		return RateSchedule{}, &FormulaNotFoundError{DeductionType: t, PayDate: payDate}
	}
	return *found, nil
}
