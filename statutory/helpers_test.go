package statutory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var dec = statutory.Dec

func date(s string) statutory.Date { return statutory.MustParseDate(s) }

func bound(s string) *decimal.Decimal { return statutory.Bound(dec(s)) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

// payeSchedule is the three-band income tax table used across the tests:
// 10% to 24,000, 25% to 32,333, 30% above.
func payeSchedule(from string, to *statutory.Date) statutory.RateSchedule {
	return statutory.RateSchedule{
		DeductionType: statutory.DeductionPAYE,
		Method:        statutory.MethodProgressive,
		EffectiveFrom: date(from),
		EffectiveTo:   to,
		Brackets: []statutory.Bracket{
			statutory.RateBracket(dec("0"), bound("24000"), dec("0.10")),
			statutory.RateBracket(dec("24000"), bound("32333"), dec("0.25")),
			statutory.RateBracket(dec("32333"), nil, dec("0.30")),
		},
		RegulatorySource: "Income Tax Act Cap 470, Third Schedule",
	}
}

// nssfSchedule is a single pensionable tier at 6% with a ceiling.
func nssfSchedule(from string, to *statutory.Date, lower, upper, cap string) statutory.RateSchedule {
	return statutory.RateSchedule{
		DeductionType: statutory.DeductionNSSFTier2,
		Method:        statutory.MethodTiered,
		EffectiveFrom: date(from),
		EffectiveTo:   to,
		Brackets: []statutory.Bracket{
			statutory.RateBracket(dec(lower), bound(upper), dec("0.06")),
		},
		CapAmount:        bound(cap),
		RegulatorySource: "NSSF Act 2013, s.20",
	}
}

func personalRelief(from string, to *statutory.Date) statutory.Relief {
	return statutory.Relief{
		ReliefType:       statutory.ReliefPersonal,
		AmountOrRate:     dec("2400"),
		EffectiveFrom:    date(from),
		EffectiveTo:      to,
		RegulatorySource: "Income Tax Act Cap 470, s.30",
	}
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	return store.NewMemory()
}

func mustAddSchedule(t *testing.T, s statutory.Store, sched statutory.RateSchedule) statutory.ScheduleID {
	t.Helper()
	id, err := s.AddSchedule(context.Background(), sched)
	require.NoError(t, err)
	return id
}

func mustAddRelief(t *testing.T, s statutory.Store, r statutory.Relief) statutory.ReliefID {
	t.Helper()
	id, err := s.AddRelief(context.Background(), r)
	require.NoError(t, err)
	return id
}

func payeOnly() statutory.Jurisdiction {
	return statutory.Jurisdiction{
		Code: "TEST",
		Rules: []statutory.DeductionRule{{
			Type:    statutory.DeductionPAYE,
			Base:    statutory.BaseGrossTaxable,
			Reliefs: []statutory.ReliefRule{{Type: statutory.ReliefPersonal}},
		}},
	}
}

func newCalculator(t *testing.T, s statutory.Store, j statutory.Jurisdiction) *statutory.Calculator {
	t.Helper()
	calc, err := statutory.NewCalculator(statutory.CalculatorConfig{Store: s, Jurisdiction: j})
	require.NoError(t, err)
	return calc
}

func input(employee, payDate, basic string) statutory.CalculationInput {
	return statutory.CalculationInput{
		EmployeeID: employee,
		PeriodID:   payDate[:7],
		BasicPay:   dec(basic),
		PayDate:    date(payDate),
	}
}
