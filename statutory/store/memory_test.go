package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
)

func levy(from string, to *statutory.Date) statutory.RateSchedule {
	return statutory.RateSchedule{
		DeductionType:    statutory.DeductionHousingLevy,
		EffectiveFrom:    statutory.MustParseDate(from),
		EffectiveTo:      to,
		Brackets:         []statutory.Bracket{statutory.RateBracket(statutory.Dec("0"), nil, statutory.Dec("0.015"))},
		RegulatorySource: "Affordable Housing Act 2024",
	}
}

func TestMemory_AddAssignsIDVersionAndMethod(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	id, err := m.AddSchedule(ctx, levy("2024-03-19", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := m.Schedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, statutory.MethodProgressive, got.Method)
}

func TestMemory_SchedulesOrderedByEffectiveFrom(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	// inserted out of order
	_, err := m.AddSchedule(ctx, levy("2024-03-19", nil))
	require.NoError(t, err)
	_, err = m.AddSchedule(ctx, levy("2023-07-01", statutory.MustParseDate("2024-03-18").Ptr()))
	require.NoError(t, err)

	versions, err := m.Schedules(ctx, statutory.DeductionHousingLevy)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "2023-07-01", versions[0].EffectiveFrom.String())
	assert.Equal(t, "2024-03-19", versions[1].EffectiveFrom.String())
}

func TestMemory_GenerationMovesOnWrites(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	g0 := m.Generation()

	id, err := m.AddSchedule(ctx, levy("2024-03-19", nil))
	require.NoError(t, err)
	g1 := m.Generation()
	assert.Greater(t, g1, g0)

	_, err = m.AddSchedule(ctx, levy("2024-03-19", nil))
	require.Error(t, err)
	assert.Equal(t, g1, m.Generation(), "failed writes do not move the generation")

	require.NoError(t, m.CloseSchedule(ctx, id, statutory.MustParseDate("2024-12-31")))
	assert.Greater(t, m.Generation(), g1)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx statutory.Store) error {
		if _, err := tx.AddSchedule(ctx, levy("2024-03-19", nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	types, err := m.DeductionTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestMemory_NotFound(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.Schedule(ctx, "nope")
	assert.ErrorIs(t, err, statutory.ErrScheduleNotFound)
	_, err = m.Relief(ctx, "nope")
	assert.ErrorIs(t, err, statutory.ErrReliefNotFound)
	assert.ErrorIs(t, m.RepealRelief(ctx, "nope", statutory.MustParseDate("2024-12-26")), statutory.ErrReliefNotFound)
}

func TestMemory_AuditQueryFilters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, []statutory.AuditRecord{
		{ID: "1", EmployeeID: "a", PayDate: statutory.MustParseDate("2025-01-31"), DeductionType: statutory.DeductionPAYE},
		{ID: "2", EmployeeID: "a", PayDate: statutory.MustParseDate("2025-02-28"), DeductionType: statutory.DeductionPAYE},
		{ID: "3", EmployeeID: "b", PayDate: statutory.MustParseDate("2025-02-28"), DeductionType: statutory.DeductionHousingLevy},
	}))

	from := statutory.MustParseDate("2025-02-01")
	got, err := m.Query(ctx, statutory.AuditFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = m.Query(ctx, statutory.AuditFilter{EmployeeID: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestMemory_Reset(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, err := m.AddSchedule(ctx, levy("2024-03-19", nil))
	require.NoError(t, err)
	g := m.Generation()

	require.NoError(t, m.Reset(ctx))

	assert.Greater(t, m.Generation(), g)
	versions, err := m.Schedules(ctx, statutory.DeductionHousingLevy)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMemory_VersionsAreCopiedInAndOut(t *testing.T) {
	// GIVEN: A stored schedule and relief
	// WHEN: The caller mutates what it passed in, and what it read back
	// THEN: The stored versions do not change

	m := store.NewMemory()
	ctx := context.Background()

	sched := levy("2024-03-19", nil)
	sched.CapAmount = statutory.Bound(statutory.Dec("5000"))
	id, err := m.AddSchedule(ctx, sched)
	require.NoError(t, err)

	*sched.Brackets[0].Rate = statutory.Dec("0.99")
	*sched.CapAmount = statutory.Dec("1")
	sched.Brackets[0].LowerBound = statutory.Dec("100")

	got, err := m.Schedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0.015", got.Brackets[0].Rate.String())
	assert.Equal(t, "5000", got.CapAmount.String())
	assert.True(t, got.Brackets[0].LowerBound.IsZero())

	*got.Brackets[0].Rate = statutory.Dec("0.5")
	got.Brackets[0] = statutory.RateBracket(statutory.Dec("1"), nil, statutory.Dec("0.7"))
	listed, err := m.Schedules(ctx, statutory.DeductionHousingLevy)
	require.NoError(t, err)
	*listed[0].CapAmount = statutory.Dec("2")

	again, err := m.Schedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0.015", again.Brackets[0].Rate.String())
	assert.Equal(t, "5000", again.CapAmount.String())

	relief := statutory.Relief{
		ReliefType:    statutory.ReliefHousingLevy,
		AmountOrRate:  statutory.Dec("0.15"),
		IsPercentage:  true,
		MaxAmount:     statutory.Bound(statutory.Dec("9000")),
		EffectiveFrom: statutory.MustParseDate("2023-07-01"),
	}
	rid, err := m.AddRelief(ctx, relief)
	require.NoError(t, err)
	*relief.MaxAmount = statutory.Dec("1")

	r, err := m.Relief(ctx, rid)
	require.NoError(t, err)
	assert.Equal(t, "9000", r.MaxAmount.String())
	*r.MaxAmount = statutory.Dec("2")

	reliefs, err := m.Reliefs(ctx, statutory.ReliefHousingLevy)
	require.NoError(t, err)
	require.Len(t, reliefs, 1)
	assert.Equal(t, "9000", reliefs[0].MaxAmount.String())
}

func TestMemory_Jurisdiction(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.LoadJurisdiction(ctx)
	require.ErrorIs(t, err, statutory.ErrNoJurisdiction)

	j := statutory.Jurisdiction{Code: "KE", Rules: []statutory.DeductionRule{{
		Type:    statutory.DeductionPAYE,
		Base:    statutory.BaseGrossTaxable,
		Reliefs: []statutory.ReliefRule{{Type: statutory.ReliefPersonal}},
	}}}
	require.NoError(t, m.SaveJurisdiction(ctx, j))
	j.Rules[0].Reliefs[0].Type = statutory.ReliefHealthLevy

	got, err := m.LoadJurisdiction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KE", got.Code)
	assert.Equal(t, statutory.ReliefPersonal, got.Rules[0].Reliefs[0].Type)

	require.NoError(t, m.Reset(ctx))
	_, err = m.LoadJurisdiction(ctx)
	assert.ErrorIs(t, err, statutory.ErrNoJurisdiction)
}
