package kenya

import (
	"context"
	"fmt"

	"github.com/warp/statutory-engine/statutory"
)

// Reliefs returns the PAYE reliefs. The two levy reliefs were repealed by
// the Tax Laws (Amendment) Act 2024, which made the levies deductible
// instead.
func Reliefs() []statutory.Relief {
	return []statutory.Relief{
		{
			ID:               "ke-personal-2017-01",
			ReliefType:       statutory.ReliefPersonal,
			AmountOrRate:     dec("2400"),
			EffectiveFrom:    day("2017-01-01"),
			RegulatorySource: "Income Tax Act Cap 470, s.30",
		},
		{
			ID:               "ke-ahl-relief-2024-03",
			ReliefType:       statutory.ReliefHousingLevy,
			AmountOrRate:     dec("0.15"),
			IsPercentage:     true,
			MaxAmount:        bound("9000"),
			EffectiveFrom:    day("2024-03-19"),
			EffectiveTo:      until("2024-12-26"),
			RegulatorySource: "Income Tax Act Cap 470, s.30C (Affordable Housing Act 2024)",
		},
		{
			ID:               "ke-shif-relief-2024-10",
			ReliefType:       statutory.ReliefHealthLevy,
			AmountOrRate:     dec("0.15"),
			IsPercentage:     true,
			MaxAmount:        bound("5000"),
			EffectiveFrom:    day("2024-10-01"),
			EffectiveTo:      until("2024-12-26"),
			RegulatorySource: "Income Tax Act Cap 470, s.31 (insurance relief on SHIF contributions)",
		},
	}
}

// Jurisdiction returns the Kenyan rule order. Pension contributions are
// computed first because PAYE is levied on pay after them; the levies come
// before PAYE because their reliefs are credited against it.
func Jurisdiction() statutory.Jurisdiction {
	return statutory.Jurisdiction{
		Code: Code,
		Rules: []statutory.DeductionRule{
			{Type: statutory.DeductionNSSFTier1, Base: statutory.BasePensionable},
			{Type: statutory.DeductionNSSFTier2, Base: statutory.BasePensionable, EffectiveFrom: day("2023-02-01")},
			{Type: statutory.DeductionHealthLevy, Base: statutory.BaseGross},
			{Type: statutory.DeductionHousingLevy, Base: statutory.BaseGross, EffectiveFrom: day("2023-07-01")},
			{
				Type:                statutory.DeductionPAYE,
				Base:                statutory.BaseGrossTaxable,
				AllowableDeductions: []statutory.DeductionType{statutory.DeductionNSSFTier1, statutory.DeductionNSSFTier2},
				Reliefs: []statutory.ReliefRule{
					{Type: statutory.ReliefPersonal},
					{Type: statutory.ReliefHousingLevy, Basis: statutory.DeductionHousingLevy},
					{Type: statutory.ReliefHealthLevy, Basis: statutory.DeductionHealthLevy},
				},
			},
		},
	}
}

// Seed writes every preset schedule and relief in one transaction.
func Seed(ctx context.Context, s statutory.Store) error {
	return statutory.WithTx(ctx, s, func(tx statutory.Store) error {
		for _, sched := range Schedules() {
			if _, err := tx.AddSchedule(ctx, sched); err != nil {
				return fmt.Errorf("seed %s: %w", sched.ID, err)
			}
		}
		for _, r := range Reliefs() {
			if _, err := tx.AddRelief(ctx, r); err != nil {
				return fmt.Errorf("seed %s: %w", r.ID, err)
			}
		}
		return nil
	})
}
