package statutory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
)

func TestResolve_SwitchesOnEffectiveBoundary(t *testing.T) {
	// GIVEN: Phase 2 ends 2025-01-31, phase 3 starts 2025-02-01
	// WHEN: Resolving on either side of midnight
	// THEN: Each date gets its own version, and amounts differ

	s := newStore(t)
	ctx := context.Background()
	phase2 := mustAddSchedule(t, s, nssfSchedule("2024-02-01", date("2025-01-31").Ptr(), "7000", "36000", "1740"))
	phase3 := mustAddSchedule(t, s, nssfSchedule("2025-02-01", nil, "8000", "72000", "3840"))
	r := statutory.NewResolver(s, nil)

	jan, err := r.Resolve(ctx, statutory.DeductionNSSFTier2, date("2025-01-31"), "")
	require.NoError(t, err)
	assert.Equal(t, phase2, jan.ID)

	feb, err := r.Resolve(ctx, statutory.DeductionNSSFTier2, date("2025-02-01"), "")
	require.NoError(t, err)
	assert.Equal(t, phase3, feb.ID)

	janEval, err := statutory.Evaluate(jan, dec("100000"))
	require.NoError(t, err)
	febEval, err := statutory.Evaluate(feb, dec("100000"))
	require.NoError(t, err)
	assertMoney(t, "1740.00", janEval.GrossLiability)
	assertMoney(t, "3840.00", febEval.GrossLiability)
}

func TestResolve_NoScheduleIsHardError(t *testing.T) {
	// GIVEN: The only version starts 2023-07-01
	// WHEN: Resolving for 2023-06-30
	// THEN: FormulaNotFoundError, never a silent fallback to the latest

	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	r := statutory.NewResolver(s, nil)

	_, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2023-06-30"), "")

	var nf *statutory.FormulaNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, statutory.DeductionPAYE, nf.DeductionType)
	assert.Equal(t, "2023-06-30", nf.PayDate.String())
	assert.True(t, statutory.IsNotFound(err))
}

func TestResolve_GapBetweenVersions(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2021-01-01", date("2022-12-31").Ptr()))
	mustAddSchedule(t, s, payeSchedule("2023-02-01", nil))
	r := statutory.NewResolver(s, nil)

	_, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2023-01-15"), "")
	assert.ErrorIs(t, err, statutory.ErrFormulaNotFound)
}

func TestResolve_OverrideIgnoresDate(t *testing.T) {
	// GIVEN: v1 (closed) and v2 (open) PAYE tables
	// WHEN: Recomputing a 2025 payslip pinned to v1
	// THEN: v1 is returned even though it is not in force on that date

	s := newStore(t)
	v1 := mustAddSchedule(t, s, payeSchedule("2021-01-01", date("2023-06-30").Ptr()))
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	r := statutory.NewResolver(s, nil)

	got, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2025-03-31"), v1)
	require.NoError(t, err)
	assert.Equal(t, v1, got.ID)
}

func TestResolve_OverrideOfWrongType(t *testing.T) {
	s := newStore(t)
	nssf := mustAddSchedule(t, s, nssfSchedule("2025-02-01", nil, "8000", "72000", "3840"))
	r := statutory.NewResolver(s, nil)

	_, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2025-03-31"), nssf)

	var mismatch *statutory.CalculationOverrideMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, statutory.DeductionNSSFTier2, mismatch.Actual)
}

func TestResolve_OverrideUnknownID(t *testing.T) {
	s := newStore(t)
	r := statutory.NewResolver(s, nil)

	_, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2025-03-31"), "does-not-exist")

	var nf *statutory.FormulaNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, statutory.ScheduleID("does-not-exist"), nf.ScheduleID)
}

func TestResolve_CacheSeesNewVersions(t *testing.T) {
	// GIVEN: A resolver that already cached PAYE for 2025-03-31
	// WHEN: v1 is closed and v2 added through the store
	// THEN: The next resolution returns v2

	s := newStore(t)
	ctx := context.Background()
	v1 := mustAddSchedule(t, s, payeSchedule("2021-01-01", nil))
	r := statutory.NewResolver(s, nil)

	got, err := r.Resolve(ctx, statutory.DeductionPAYE, date("2025-03-31"), "")
	require.NoError(t, err)
	assert.Equal(t, v1, got.ID)

	catalog := &statutory.Catalog{Store: s}
	v2, err := catalog.Supersede(ctx, payeSchedule("2025-01-01", nil))
	require.NoError(t, err)

	got, err = r.Resolve(ctx, statutory.DeductionPAYE, date("2025-03-31"), "")
	require.NoError(t, err)
	assert.Equal(t, v2, got.ID)
}

// corruptStore returns two versions in force on the same day, as a catalog
// edited outside the write path would.
type corruptStore struct {
	statutory.Store
	versions []statutory.RateSchedule
}

func (c corruptStore) Schedules(context.Context, statutory.DeductionType) ([]statutory.RateSchedule, error) {
	return c.versions, nil
}

func TestResolve_AmbiguousCatalogIsRejected(t *testing.T) {
	a := payeSchedule("2021-01-01", nil)
	a.ID = "a"
	b := payeSchedule("2023-07-01", nil)
	b.ID = "b"
	r := statutory.NewResolver(corruptStore{Store: newStore(t), versions: []statutory.RateSchedule{a, b}}, nil)

	_, err := r.Resolve(context.Background(), statutory.DeductionPAYE, date("2024-01-01"), "")
	assert.ErrorIs(t, err, statutory.ErrOverlappingSchedule)
}

func TestResolveAll(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	mustAddSchedule(t, s, nssfSchedule("2023-07-01", nil, "0", "1000", "60"))
	r := statutory.NewResolver(s, nil)

	all, err := r.ResolveAll(context.Background(),
		[]statutory.DeductionType{statutory.DeductionPAYE, statutory.DeductionNSSFTier2}, date("2024-05-31"))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = r.ResolveAll(context.Background(),
		[]statutory.DeductionType{statutory.DeductionPAYE, statutory.DeductionHousingLevy}, date("2024-05-31"))
	assert.ErrorIs(t, err, statutory.ErrFormulaNotFound)
}
