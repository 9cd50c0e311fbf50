/*
Package kenya provides the Kenyan statutory deduction presets.

Each function returns the full version history of one deduction type with
its legal citation, so payroll for any past pay date can be recomputed
against the table that was in force at the time.

LINEAGES:
  PAYE          2021-01 (three bands), 2023-07 (adds 32.5% and 35%)
  NSSF_TIER1    legacy KES 200, then NSSF Act 2013 phases Feb 2023/2024/2025
  NSSF_TIER2    NSSF Act 2013 phases Feb 2023/2024/2025
  HEALTH_LEVY   NHIF banded fixed amounts, SHIF 2.75% from 2024-10-01
  HOUSING_LEVY  1.5% of gross, Finance Act 2023 then Affordable Housing Act 2024

Preset IDs are stable ("ke-paye-2023-07") so callers can name a version in
an override.

USAGE:
  store := store.NewMemory()
  if err := kenya.Seed(ctx, store); err != nil { ... }
  calc, err := statutory.NewCalculator(statutory.CalculatorConfig{
      Store:        store,
      Jurisdiction: kenya.Jurisdiction(),
  })

SEE ALSO:
  - factory/catalog.go: Export these presets as a catalog file
*/
package kenya

import (
	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/statutory"
)

// Code is the jurisdiction code.
const Code = "KE"

var (
	dec   = statutory.Dec
	bound = func(s string) *decimal.Decimal { return statutory.Bound(dec(s)) }
	day   = statutory.MustParseDate
)

func until(s string) *statutory.Date { return day(s).Ptr() }

// Schedules returns every preset schedule of every deduction type.
func Schedules() []statutory.RateSchedule {
	var all []statutory.RateSchedule
	all = append(all, PAYE()...)
	all = append(all, NSSFTier1()...)
	all = append(all, NSSFTier2()...)
	all = append(all, HealthLevy()...)
	all = append(all, HousingLevy()...)
	return all
}

// =============================================================================
// PAYE
// =============================================================================

// PAYE returns the monthly income tax bands.
func PAYE() []statutory.RateSchedule {
	return []statutory.RateSchedule{
		{
			ID:            "ke-paye-2021-01",
			DeductionType: statutory.DeductionPAYE,
			Version:       1,
			Method:        statutory.MethodProgressive,
			EffectiveFrom: day("2021-01-01"),
			EffectiveTo:   until("2023-06-30"),
			Brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), bound("24000"), dec("0.10")),
				statutory.RateBracket(dec("24000"), bound("32333"), dec("0.25")),
				statutory.RateBracket(dec("32333"), nil, dec("0.30")),
			},
			RegulatorySource: "Income Tax Act Cap 470, Third Schedule (Finance Act 2020)",
			IsHistorical:     true,
		},
		{
			ID:            "ke-paye-2023-07",
			DeductionType: statutory.DeductionPAYE,
			Version:       2,
			Method:        statutory.MethodProgressive,
			EffectiveFrom: day("2023-07-01"),
			Brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), bound("24000"), dec("0.10")),
				statutory.RateBracket(dec("24000"), bound("32333"), dec("0.25")),
				statutory.RateBracket(dec("32333"), bound("500000"), dec("0.30")),
				statutory.RateBracket(dec("500000"), bound("800000"), dec("0.325")),
				statutory.RateBracket(dec("800000"), nil, dec("0.35")),
			},
			RegulatorySource: "Income Tax Act Cap 470, Third Schedule (Finance Act 2023, s.26)",
		},
	}
}

// =============================================================================
// NSSF
// =============================================================================

// nssfPhase is one year of the NSSF Act 2013 phase-in: Tier I covers pay up
// to the lower earnings limit, Tier II up to the upper one, both at 6%.
type nssfPhase struct {
	from, to   string
	lel, uel   string
	tier1Cap   string
	tier2Cap   string
	historical bool
}

var nssfPhases = []nssfPhase{
	{from: "2023-02-01", to: "2024-01-31", lel: "6000", uel: "18000", tier1Cap: "360", tier2Cap: "720", historical: true},
	{from: "2024-02-01", to: "2025-01-31", lel: "7000", uel: "36000", tier1Cap: "420", tier2Cap: "1740", historical: true},
	{from: "2025-02-01", lel: "8000", uel: "72000", tier1Cap: "480", tier2Cap: "3840"},
}

const nssfSource = "NSSF Act 2013, s.20 and Third Schedule"

// NSSFTier1 returns the Tier I lineage, starting with the flat KES 200
// contribution of the repealed Act.
func NSSFTier1() []statutory.RateSchedule {
	out := []statutory.RateSchedule{{
		ID:            "ke-nssf-t1-legacy",
		DeductionType: statutory.DeductionNSSFTier1,
		Version:       1,
		Method:        statutory.MethodTiered,
		EffectiveFrom: day("2014-01-01"),
		EffectiveTo:   until("2023-01-31"),
		Brackets: []statutory.Bracket{
			statutory.RateBracket(dec("0"), bound("4000"), dec("0.05")),
		},
		CapAmount:        bound("200"),
		RegulatorySource: "NSSF Act Cap 258 (repealed), s.20",
		IsHistorical:     true,
	}}
	for i, p := range nssfPhases {
		out = append(out, statutory.RateSchedule{
			ID:            statutory.ScheduleID("ke-nssf-t1-" + p.from[:7]),
			DeductionType: statutory.DeductionNSSFTier1,
			Version:       i + 2,
			Method:        statutory.MethodTiered,
			EffectiveFrom: day(p.from),
			EffectiveTo:   optionalUntil(p.to),
			Brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), bound(p.lel), dec("0.06")),
			},
			CapAmount:        bound(p.tier1Cap),
			RegulatorySource: nssfSource,
			IsHistorical:     p.historical,
		})
	}
	return out
}

// NSSFTier2 returns the Tier II lineage. Tier II did not exist before
// February 2023.
func NSSFTier2() []statutory.RateSchedule {
	var out []statutory.RateSchedule
	for i, p := range nssfPhases {
		out = append(out, statutory.RateSchedule{
			ID:            statutory.ScheduleID("ke-nssf-t2-" + p.from[:7]),
			DeductionType: statutory.DeductionNSSFTier2,
			Version:       i + 1,
			Method:        statutory.MethodTiered,
			EffectiveFrom: day(p.from),
			EffectiveTo:   optionalUntil(p.to),
			Brackets: []statutory.Bracket{
				statutory.RateBracket(dec(p.lel), bound(p.uel), dec("0.06")),
			},
			CapAmount:        bound(p.tier2Cap),
			RegulatorySource: nssfSource,
			IsHistorical:     p.historical,
		})
	}
	return out
}

func optionalUntil(s string) *statutory.Date {
	if s == "" {
		return nil
	}
	return until(s)
}

// =============================================================================
// HEALTH LEVY
// =============================================================================

// nhifBands are the NHIF monthly contributions by gross pay, 2015 rates.
var nhifBands = []struct{ lower, amount string }{
	{"0", "150"},
	{"6000", "300"},
	{"8000", "400"},
	{"12000", "500"},
	{"15000", "600"},
	{"20000", "750"},
	{"25000", "850"},
	{"30000", "900"},
	{"35000", "950"},
	{"40000", "1000"},
	{"45000", "1100"},
	{"50000", "1200"},
	{"60000", "1300"},
	{"70000", "1400"},
	{"80000", "1500"},
	{"90000", "1600"},
	{"100000", "1700"},
}

// HealthLevy returns NHIF followed by its replacement, SHIF.
func HealthLevy() []statutory.RateSchedule {
	var brackets []statutory.Bracket
	for i, b := range nhifBands {
		var upper *decimal.Decimal
		if i+1 < len(nhifBands) {
			upper = bound(nhifBands[i+1].lower)
		}
		brackets = append(brackets, statutory.FixedBracket(dec(b.lower), upper, dec(b.amount)))
	}

	return []statutory.RateSchedule{
		{
			ID:               "ke-nhif-2015-04",
			DeductionType:    statutory.DeductionHealthLevy,
			Version:          1,
			Method:           statutory.MethodBanded,
			EffectiveFrom:    day("2015-04-01"),
			EffectiveTo:      until("2024-09-30"),
			Brackets:         brackets,
			RegulatorySource: "NHIF Act 1998 (repealed), NHIF (Standard Contribution) Regulations 2015",
			IsHistorical:     true,
		},
		{
			ID:            "ke-shif-2024-10",
			DeductionType: statutory.DeductionHealthLevy,
			Version:       2,
			Method:        statutory.MethodProgressive,
			EffectiveFrom: day("2024-10-01"),
			Brackets: []statutory.Bracket{
				statutory.RateBracket(dec("0"), nil, dec("0.0275")),
			},
			FloorAmount:      bound("300"),
			RegulatorySource: "Social Health Insurance Act 2023, s.27; Social Health Insurance (General) Regulations 2024",
		},
	}
}

// =============================================================================
// HOUSING LEVY
// =============================================================================

// HousingLevy returns the employee share of the housing levy. The rate did
// not change when the levy was re-enacted; the legal basis did.
func HousingLevy() []statutory.RateSchedule {
	brackets := func() []statutory.Bracket {
		return []statutory.Bracket{statutory.RateBracket(dec("0"), nil, dec("0.015"))}
	}
	return []statutory.RateSchedule{
		{
			ID:               "ke-ahl-2023-07",
			DeductionType:    statutory.DeductionHousingLevy,
			Version:          1,
			Method:           statutory.MethodProgressive,
			EffectiveFrom:    day("2023-07-01"),
			EffectiveTo:      until("2024-03-18"),
			Brackets:         brackets(),
			RegulatorySource: "Finance Act 2023, s.84 (Employment Act s.31B)",
			IsHistorical:     true,
		},
		{
			ID:               "ke-ahl-2024-03",
			DeductionType:    statutory.DeductionHousingLevy,
			Version:          2,
			Method:           statutory.MethodProgressive,
			EffectiveFrom:    day("2024-03-19"),
			Brackets:         brackets(),
			RegulatorySource: "Affordable Housing Act 2024, s.4",
		},
	}
}
