package statutory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
)

// =============================================================================
// BRACKET INVARIANTS
// =============================================================================

func TestValidateBrackets_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		brackets []statutory.Bracket
		method   statutory.Method
		index    int
	}{
		{
			name:     "empty",
			brackets: nil,
			index:    -1,
		},
		{
			name: "gap between brackets",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), bound("24000"), dec("0.10")),
				statutory.RateBracket(dec("24001"), nil, dec("0.25")),
			},
			index: 1,
		},
		{
			name: "overlapping brackets",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), bound("24000"), dec("0.10")),
				statutory.RateBracket(dec("23000"), nil, dec("0.25")),
			},
			index: 1,
		},
		{
			name: "unbounded in the middle",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("0.10")),
				statutory.RateBracket(dec("24000"), nil, dec("0.25")),
			},
			index: 0,
		},
		{
			name: "upper not above lower",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("100"), bound("100"), dec("0.10")),
			},
			index: 0,
		},
		{
			name: "both rate and fixed amount",
			brackets: []statutory.Bracket{
				{LowerBound: dec("0"), Rate: bound("0.1"), FixedAmount: bound("10")},
			},
			index: 0,
		},
		{
			name: "neither rate nor fixed amount",
			brackets: []statutory.Bracket{
				{LowerBound: dec("0")},
			},
			index: 0,
		},
		{
			name: "rate above one",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("30")),
			},
			index: 0,
		},
		{
			name:   "tiered must be bounded",
			method: statutory.MethodTiered,
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("0.06")),
			},
			index: 0,
		},
		{
			name:   "banded must be fixed",
			method: statutory.MethodBanded,
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("0.06")),
			},
			index: 0,
		},
		{
			name:   "unknown method",
			method: "flat",
			brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("0.06")),
			},
			index: -1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sched := statutory.RateSchedule{
				DeductionType: statutory.DeductionPAYE,
				Method:        tc.method,
				EffectiveFrom: date("2024-01-01"),
				Brackets:      tc.brackets,
			}
			err := statutory.ValidateSchedule(sched)

			var bracketErr *statutory.InvalidBracketConfigurationError
			require.ErrorAs(t, err, &bracketErr)
			assert.ErrorIs(t, err, statutory.ErrInvalidBracketConfiguration)
			assert.Equal(t, tc.index, bracketErr.Index)
			assert.True(t, statutory.IsConfigurationError(err))
		})
	}
}

func TestValidateSchedule_AcceptsContiguousBrackets(t *testing.T) {
	assert.NoError(t, statutory.ValidateSchedule(payeSchedule("2023-07-01", nil)))
	assert.NoError(t, statutory.ValidateSchedule(bandedLevy()))
}

func TestValidateSchedule_RejectsInvertedWindow(t *testing.T) {
	sched := payeSchedule("2024-01-01", date("2023-12-31").Ptr())
	assert.ErrorIs(t, statutory.ValidateSchedule(sched), statutory.ErrInvalidSchedule)
}

func TestValidateSchedule_RejectsFloorAboveCap(t *testing.T) {
	sched := nssfSchedule("2024-01-01", nil, "0", "1000", "10")
	sched.FloorAmount = bound("20")
	assert.ErrorIs(t, statutory.ValidateSchedule(sched), statutory.ErrInvalidSchedule)
}

// =============================================================================
// EFFECTIVE WINDOWS
// =============================================================================

func TestAddSchedule_RejectsOverlappingWindow(t *testing.T) {
	// GIVEN: v1 valid 2023-02-01..2024-01-31
	// WHEN: Adding v2 starting 2024-01-15
	// THEN: OverlappingScheduleError naming v1

	s := newStore(t)
	ctx := context.Background()
	v1 := mustAddSchedule(t, s, nssfSchedule("2023-02-01", date("2024-01-31").Ptr(), "6000", "18000", "720"))

	_, err := s.AddSchedule(ctx, nssfSchedule("2024-01-15", nil, "7000", "36000", "1740"))

	var overlap *statutory.OverlappingScheduleError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, string(v1), overlap.ExistingID)
	assert.Equal(t, statutory.KindSchedule, overlap.Kind)

	versions, err := s.Schedules(ctx, statutory.DeductionNSSFTier2)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "rejected version must not be stored")
}

func TestAddSchedule_OpenEndedBlocksLaterVersions(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))

	_, err := s.AddSchedule(context.Background(), payeSchedule("2030-01-01", nil))
	assert.ErrorIs(t, err, statutory.ErrOverlappingSchedule)
}

func TestAddSchedule_AdjacentWindowsAccepted(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2021-01-01", date("2023-06-30").Ptr()))
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))

	versions, err := s.Schedules(context.Background(), statutory.DeductionPAYE)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestAddSchedule_ExplicitVersionMustIncrease(t *testing.T) {
	s := newStore(t)
	first := payeSchedule("2021-01-01", date("2023-06-30").Ptr())
	first.Version = 5
	mustAddSchedule(t, s, first)

	stale := payeSchedule("2023-07-01", nil)
	stale.Version = 3
	_, err := s.AddSchedule(context.Background(), stale)
	assert.ErrorIs(t, err, statutory.ErrVersionConflict)
}

func TestAddSchedule_DifferentTypesMayShareWindows(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	mustAddSchedule(t, s, nssfSchedule("2023-07-01", nil, "0", "1000", "60"))
}

// =============================================================================
// RELIEFS
// =============================================================================

func TestValidateRelief(t *testing.T) {
	ok := personalRelief("2021-01-01", nil)
	assert.NoError(t, statutory.ValidateRelief(ok))

	negative := ok
	negative.AmountOrRate = dec("-1")
	assert.ErrorIs(t, statutory.ValidateRelief(negative), statutory.ErrInvalidRelief)

	pct := ok
	pct.IsPercentage = true
	pct.AmountOrRate = dec("15")
	assert.ErrorIs(t, statutory.ValidateRelief(pct), statutory.ErrInvalidRelief, "percentages are fractions")
}

func TestAddRelief_RejectsOverlap(t *testing.T) {
	s := newStore(t)
	mustAddRelief(t, s, personalRelief("2021-01-01", nil))

	_, err := s.AddRelief(context.Background(), personalRelief("2024-01-01", nil))

	var overlap *statutory.OverlappingScheduleError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, statutory.KindRelief, overlap.Kind)
}

// =============================================================================
// CALCULATION INPUT
// =============================================================================

func TestCalculationInput_Validate(t *testing.T) {
	in := input("emp-1", "2025-03-31", "50000")
	assert.NoError(t, in.Validate())

	bad := in
	bad.PayDate = statutory.Date{}
	bad.TaxableAllowances = dec("-10")
	err := bad.Validate()

	var inputErr *statutory.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Len(t, inputErr.Problems, 2)
	assert.True(t, statutory.IsClientError(err))
}

func TestCalculationInput_Bases(t *testing.T) {
	in := statutory.CalculationInput{
		BasicPay:          dec("100"),
		TaxableAllowances: dec("20"),
		TaxableBenefits:   dec("5"),
		NonTaxableTotal:   dec("1"),
	}
	assertMoney(t, "125.00", in.GrossTaxablePay())
	assertMoney(t, "120.00", in.PensionablePay())
	assertMoney(t, "126.00", in.GrossPay())
}
