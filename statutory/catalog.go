package statutory

import (
	"context"
	"fmt"
	"log/slog"
)

// =============================================================================
// CATALOG - Administrative operations over a Store
// =============================================================================

// Catalog groups the multi-step administrative operations. Single writes go
// straight to the Store; these need a transaction to stay consistent.
type Catalog struct {
	Store  Store
	Logger *slog.Logger
}

func (c *Catalog) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// Supersede closes the open-ended version of s.DeductionType the day before
// s takes effect and adds s, atomically. With no open-ended predecessor it
// is a plain add.
func (c *Catalog) Supersede(ctx context.Context, s RateSchedule) (ScheduleID, error) {
	if s.EffectiveFrom.IsZero() {
		return "", fmt.Errorf("%w: %s: effective_from is required", ErrInvalidSchedule, s.DeductionType)
	}
	var id ScheduleID
	err := WithTx(ctx, c.Store, func(tx Store) error {
		versions, err := tx.Schedules(ctx, s.DeductionType)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.EffectiveTo != nil || !v.EffectiveFrom.Before(s.EffectiveFrom) {
				continue
			}
			if err := tx.CloseSchedule(ctx, v.ID, s.EffectiveFrom.AddDays(-1)); err != nil {
				return err
			}
			c.logger().Info("schedule superseded",
				"deduction", s.DeductionType, "closed", v.ID, "closed_version", v.Version,
				"effective_to", s.EffectiveFrom.AddDays(-1))
		}
		id, err = tx.AddSchedule(ctx, s)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// SupersedeRelief is Supersede for reliefs.
func (c *Catalog) SupersedeRelief(ctx context.Context, r Relief) (ReliefID, error) {
	if r.EffectiveFrom.IsZero() {
		return "", fmt.Errorf("%w: %s: effective_from is required", ErrInvalidRelief, r.ReliefType)
	}
	var id ReliefID
	err := WithTx(ctx, c.Store, func(tx Store) error {
		versions, err := tx.Reliefs(ctx, r.ReliefType)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.EffectiveTo != nil || !v.EffectiveFrom.Before(r.EffectiveFrom) {
				continue
			}
			if err := tx.RepealRelief(ctx, v.ID, r.EffectiveFrom.AddDays(-1)); err != nil {
				return err
			}
		}
		id, err = tx.AddRelief(ctx, r)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Close ends a schedule's window, for repealed deductions.
func (c *Catalog) Close(ctx context.Context, id ScheduleID, to Date) error {
	if err := c.Store.CloseSchedule(ctx, id, to); err != nil {
		return err
	}
	c.logger().Info("schedule closed", "schedule", id, "effective_to", to)
	return nil
}

// Repeal ends a relief's window. Pay dates after to no longer receive it.
func (c *Catalog) Repeal(ctx context.Context, id ReliefID, to Date) error {
	if err := c.Store.RepealRelief(ctx, id, to); err != nil {
		return err
	}
	c.logger().Info("relief repealed", "relief", id, "effective_to", to)
	return nil
}
