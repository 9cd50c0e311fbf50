package kenya_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/kenya"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newKenyaCalculator(t *testing.T) (*statutory.Calculator, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	require.NoError(t, kenya.Seed(context.Background(), s))
	calc, err := statutory.NewCalculator(statutory.CalculatorConfig{Store: s, Jurisdiction: kenya.Jurisdiction()})
	require.NoError(t, err)
	return calc, s
}

func monthly(payDate, basic string) statutory.CalculationInput {
	return statutory.CalculationInput{
		EmployeeID: "emp-001",
		PeriodID:   payDate[:7],
		BasicPay:   statutory.Dec(basic),
		PayDate:    statutory.MustParseDate(payDate),
	}
}

func net(t *testing.T, res statutory.Results, dt statutory.DeductionType) string {
	t.Helper()
	r, ok := res[dt]
	require.True(t, ok, "%s missing from results", dt)
	return r.NetAmount.StringFixed(2)
}

// =============================================================================
// PRESET INTEGRITY
// =============================================================================

func TestPresets_LoadIntoEmptyStore(t *testing.T) {
	_, s := newKenyaCalculator(t)
	ctx := context.Background()

	types, err := s.DeductionTypes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, kenya.Jurisdiction().Types(), types)

	for _, sched := range kenya.Schedules() {
		got, err := s.Schedule(ctx, sched.ID)
		require.NoError(t, err, sched.ID)
		assert.Equal(t, sched.Version, got.Version, sched.ID)
		assert.NotEmpty(t, got.RegulatorySource, sched.ID)
	}
}

func TestPresets_SeedTwiceFails(t *testing.T) {
	_, s := newKenyaCalculator(t)
	err := kenya.Seed(context.Background(), s)
	assert.Error(t, err)

	versions, err := s.Schedules(context.Background(), statutory.DeductionPAYE)
	require.NoError(t, err)
	assert.Len(t, versions, 2, "second seed rolled back")
}

func TestPresets_NoGapsAfterFirstVersion(t *testing.T) {
	// Every lineage is contiguous: each version starts the day after its
	// predecessor ends, and only the last is open-ended.
	byType := map[statutory.DeductionType][]statutory.RateSchedule{}
	for _, s := range kenya.Schedules() {
		byType[s.DeductionType] = append(byType[s.DeductionType], s)
	}
	for dt, versions := range byType {
		for i := 1; i < len(versions); i++ {
			prev := versions[i-1]
			require.NotNil(t, prev.EffectiveTo, "%s v%d", dt, prev.Version)
			assert.Equal(t, prev.EffectiveTo.AddDays(1).String(), versions[i].EffectiveFrom.String(), "%s v%d", dt, versions[i].Version)
		}
		assert.Nil(t, versions[len(versions)-1].EffectiveTo, "%s current version is open-ended", dt)
	}
}

// =============================================================================
// HISTORICAL PAY DATES
// =============================================================================

func TestCompute_March2025(t *testing.T) {
	// GIVEN: KES 100,000 basic, NSSF phase 3, SHIF, levy reliefs repealed
	// THEN: PAYE base is pay less both NSSF tiers, only personal relief applies

	calc, _ := newKenyaCalculator(t)
	res, err := calc.Compute(context.Background(), monthly("2025-03-31", "100000"))
	require.NoError(t, err)

	assert.Equal(t, "480.00", net(t, res, statutory.DeductionNSSFTier1))
	assert.Equal(t, "3840.00", net(t, res, statutory.DeductionNSSFTier2))
	assert.Equal(t, "2750.00", net(t, res, statutory.DeductionHealthLevy))
	assert.Equal(t, "1500.00", net(t, res, statutory.DeductionHousingLevy))

	paye := res[statutory.DeductionPAYE]
	assert.Equal(t, "95680.00", paye.TaxableBase.StringFixed(2))
	assert.Equal(t, "23487.35", paye.GrossLiability.StringFixed(2))
	assert.Equal(t, "2400.00", paye.ReliefApplied.StringFixed(2))
	assert.Equal(t, "21087.35", paye.NetAmount.StringFixed(2))
	assert.Equal(t, statutory.ScheduleID("ke-paye-2023-07"), paye.ScheduleIDUsed)
	assert.Equal(t, []statutory.ReliefID{"ke-personal-2017-01"}, paye.ReliefIDs())
}

func TestCompute_November2024_LevyReliefs(t *testing.T) {
	// GIVEN: A pay date inside the window where both levy reliefs applied
	// THEN: 15% of the housing levy and 15% of SHIF are credited against PAYE

	calc, _ := newKenyaCalculator(t)
	res, err := calc.Compute(context.Background(), monthly("2024-11-15", "100000"))
	require.NoError(t, err)

	assert.Equal(t, "420.00", net(t, res, statutory.DeductionNSSFTier1))
	assert.Equal(t, "1740.00", net(t, res, statutory.DeductionNSSFTier2))
	assert.Equal(t, "2750.00", net(t, res, statutory.DeductionHealthLevy))

	paye := res[statutory.DeductionPAYE]
	assert.Equal(t, "24135.35", paye.GrossLiability.StringFixed(2))
	require.Len(t, paye.Reliefs, 3)
	assert.Equal(t, "2400.00", paye.Reliefs[0].Amount.StringFixed(2))
	assert.Equal(t, "225.00", paye.Reliefs[1].Amount.StringFixed(2))
	assert.Equal(t, "412.50", paye.Reliefs[2].Amount.StringFixed(2))
	assert.Equal(t, "21097.85", paye.NetAmount.StringFixed(2))
}

func TestCompute_March2023_NHIFAndNoHousingLevy(t *testing.T) {
	// GIVEN: March 2023, before the housing levy and while NHIF applied
	// THEN: NHIF band amount, no housing levy result, PAYE under the 2021 table

	calc, _ := newKenyaCalculator(t)
	res, err := calc.Compute(context.Background(), monthly("2023-03-15", "50000"))
	require.NoError(t, err)

	assert.Equal(t, "360.00", net(t, res, statutory.DeductionNSSFTier1))
	assert.Equal(t, "720.00", net(t, res, statutory.DeductionNSSFTier2))
	assert.Equal(t, "1200.00", net(t, res, statutory.DeductionHealthLevy))
	_, hasLevy := res[statutory.DeductionHousingLevy]
	assert.False(t, hasLevy)

	paye := res[statutory.DeductionPAYE]
	assert.Equal(t, statutory.ScheduleID("ke-paye-2021-01"), paye.ScheduleIDUsed)
	assert.Equal(t, "9459.35", paye.GrossLiability.StringFixed(2))
	assert.Equal(t, "7059.35", paye.NetAmount.StringFixed(2))
}

func TestCompute_2022_LegacyNSSF(t *testing.T) {
	// GIVEN: A 2022 pay date, under the repealed NSSF Act
	// THEN: Tier I is the flat KES 200 and Tier II does not exist

	calc, _ := newKenyaCalculator(t)
	res, err := calc.Compute(context.Background(), monthly("2022-06-30", "50000"))
	require.NoError(t, err)

	assert.Equal(t, "200.00", net(t, res, statutory.DeductionNSSFTier1))
	_, hasTier2 := res[statutory.DeductionNSSFTier2]
	assert.False(t, hasTier2)
	assert.Equal(t, "7323.35", net(t, res, statutory.DeductionPAYE))
}

func TestCompute_SHIFFloor(t *testing.T) {
	// GIVEN: KES 10,000 gross under SHIF (2.75% = 275)
	// THEN: The KES 300 minimum applies and the trace shows the adjustment

	calc, _ := newKenyaCalculator(t)
	res, err := calc.Compute(context.Background(), monthly("2025-03-31", "10000"))
	require.NoError(t, err)

	shif := res[statutory.DeductionHealthLevy]
	assert.Equal(t, "300.00", shif.GrossLiability.StringFixed(2))
	require.Len(t, shif.BracketTrace, 2)
	assert.Equal(t, statutory.TraceFloor, shif.BracketTrace[1].Kind)
	assert.Equal(t, "25.00", shif.BracketTrace[1].Amount.StringFixed(2))

	assert.Equal(t, "0.00", net(t, res, statutory.DeductionPAYE), "reliefs never push PAYE below zero")
}

func TestCompute_BeforeAnyPAYEVersion(t *testing.T) {
	calc, _ := newKenyaCalculator(t)
	_, err := calc.Compute(context.Background(), monthly("2020-12-31", "50000"))

	require.ErrorIs(t, err, statutory.ErrFormulaNotFound)
	var cerr *statutory.CalculationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, statutory.DeductionPAYE, cerr.DeductionType)
}

func TestCompute_OverrideToEarlierTable(t *testing.T) {
	// GIVEN: A 2025 pay date for an employee earning KES 600,000
	// WHEN: PAYE is overridden to the 2021 table (no 32.5% band)
	// THEN: The override is used and flagged

	calc, _ := newKenyaCalculator(t)
	in := monthly("2025-03-31", "600000")

	current, err := calc.Compute(context.Background(), in)
	require.NoError(t, err)

	in.Overrides = map[statutory.DeductionType]statutory.ScheduleID{statutory.DeductionPAYE: "ke-paye-2021-01"}
	overridden, err := calc.Compute(context.Background(), in)
	require.NoError(t, err)

	paye := overridden[statutory.DeductionPAYE]
	assert.True(t, paye.WasOverridden)
	assert.Equal(t, 1, paye.ScheduleVersion)
	assert.True(t, paye.GrossLiability.LessThan(current[statutory.DeductionPAYE].GrossLiability))
}
