package statutory

import (
	"context"
	"sort"
)

// =============================================================================
// COVERAGE - Will payroll find a formula for every pay date ahead?
// =============================================================================

// CoverageGap is the first date of a run of days on which a configured
// deduction cannot be resolved.
type CoverageGap struct {
	DeductionType DeductionType `json:"deduction_type"`
	Date          Date          `json:"date"`
	Reason        string        `json:"reason"`
}

// CoverageReport lists the gaps found in [From, To].
type CoverageReport struct {
	From Date          `json:"from"`
	To   Date          `json:"to"`
	Gaps []CoverageGap `json:"gaps"`
}

func (r CoverageReport) OK() bool { return len(r.Gaps) == 0 }

// CheckCoverage resolves every rule of j at each date in [from, to] where
// the set of active versions can change: the range ends, every version's
// first day, and the day after every version ends. Resolution is constant
// between those points, so checking them covers the whole range.
func CheckCoverage(ctx context.Context, store Store, j Jurisdiction, from, to Date) (CoverageReport, error) {
	report := CoverageReport{From: from, To: to, Gaps: []CoverageGap{}}
	inRange := func(d Date) bool { return !d.Before(from) && !d.After(to) }

	for _, rule := range j.Rules {
		versions, err := store.Schedules(ctx, rule.Type)
		if err != nil {
			return report, err
		}

		points := []Date{from, to}
		if inRange(rule.EffectiveFrom) {
			points = append(points, rule.EffectiveFrom)
		}
		for _, v := range versions {
			if inRange(v.EffectiveFrom) {
				points = append(points, v.EffectiveFrom)
			}
			if v.EffectiveTo != nil && inRange(v.EffectiveTo.AddDays(1)) {
				points = append(points, v.EffectiveTo.AddDays(1))
			}
		}
		sort.Slice(points, func(a, b int) bool { return points[a].Before(points[b]) })

		// A gap runs until the next point that resolves, so only its first
		// day is reported.
		var last *Date
		inGap := false
		for _, p := range points {
			if last != nil && last.Equal(p) {
				continue
			}
			last = p.Ptr()
			if !rule.AppliesOn(p) {
				inGap = false
				continue
			}
			_, err := pickSchedule(versions, rule.Type, p)
			if err == nil {
				inGap = false
				continue
			}
			if !inGap {
				report.Gaps = append(report.Gaps, CoverageGap{DeductionType: rule.Type, Date: p, Reason: err.Error()})
			}
			inGap = true
		}
	}
	return report, nil
}
