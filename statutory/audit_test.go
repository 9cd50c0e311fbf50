package statutory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
)

func fixedClock() time.Time { return time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC) }

func TestFingerprint_StableAcrossRecomputation(t *testing.T) {
	s := newStore(t)
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	calc := newCalculator(t, s, payeOnly())
	in := input("emp-1", "2025-03-31", "50000")

	first, err := calc.Compute(context.Background(), in)
	require.NoError(t, err)
	second, err := calc.Compute(context.Background(), in)
	require.NoError(t, err)

	a, err := statutory.Fingerprint(in, first[statutory.DeductionPAYE])
	require.NoError(t, err)
	b, err := statutory.Fingerprint(in, second[statutory.DeductionPAYE])
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex of a 32-byte digest")
}

func TestFingerprint_ChangesWithInput(t *testing.T) {
	res := statutory.DeductionResult{DeductionType: statutory.DeductionPAYE, NetAmount: dec("10")}
	a, err := statutory.Fingerprint(input("emp-1", "2025-03-31", "50000"), res)
	require.NoError(t, err)
	b, err := statutory.Fingerprint(input("emp-2", "2025-03-31", "50000"), res)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecorder_RecordAndQuery(t *testing.T) {
	// GIVEN: A PAYE computation for March
	// WHEN: It is recorded
	// THEN: The audit record names the schedule version, statute and reliefs

	s := newStore(t)
	ctx := context.Background()
	payeID := mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	reliefID := mustAddRelief(t, s, personalRelief("2021-01-01", nil))
	calc := newCalculator(t, s, payeOnly())
	recorder := &statutory.Recorder{Log: s, Now: fixedClock}

	in := input("emp-1", "2025-03-31", "50000")
	results, err := calc.Compute(ctx, in)
	require.NoError(t, err)

	records, err := recorder.Record(ctx, in, results)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got, err := s.Query(ctx, statutory.AuditFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, payeID, rec.ScheduleID)
	assert.Equal(t, 1, rec.ScheduleVersion)
	assert.Equal(t, "Income Tax Act Cap 470, Third Schedule", rec.RegulatorySource)
	assert.Equal(t, []statutory.ReliefID{reliefID}, rec.ReliefIDs)
	assert.Equal(t, "2025-03", rec.PeriodID)
	assertMoney(t, "7383.35", rec.NetAmount)
	assert.Equal(t, fixedClock(), rec.ComputedAt)
	assert.NotEmpty(t, rec.Fingerprint)

	none, err := s.Query(ctx, statutory.AuditFilter{EmployeeID: "emp-2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecorder_VerifyDetectsTampering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	calc := newCalculator(t, s, payeOnly())
	recorder := &statutory.Recorder{Log: s, Now: fixedClock}

	in := input("emp-1", "2025-03-31", "50000")
	results, err := calc.Compute(ctx, in)
	require.NoError(t, err)
	records, err := recorder.Record(ctx, in, results)
	require.NoError(t, err)

	ok, err := recorder.Verify(records[0], in, results)
	require.NoError(t, err)
	assert.True(t, ok.Matches)

	tampered := records[0]
	tampered.Fingerprint = "00"
	bad, err := recorder.Verify(tampered, in, results)
	require.NoError(t, err)
	assert.False(t, bad.Matches)
}

func TestRecorder_ReproduceDetectsCatalogDrift(t *testing.T) {
	// GIVEN: A recorded computation against an open-ended PAYE table
	// WHEN: The table is superseded from the same pay date afterwards
	// THEN: Reproducing the record no longer matches

	s := newStore(t)
	ctx := context.Background()
	mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	calc := newCalculator(t, s, payeOnly())
	recorder := &statutory.Recorder{Log: s, Now: fixedClock}

	in := input("emp-1", "2025-03-31", "50000")
	results, err := calc.Compute(ctx, in)
	require.NoError(t, err)
	records, err := recorder.Record(ctx, in, results)
	require.NoError(t, err)

	same, err := recorder.Reproduce(ctx, calc, in, records[0])
	require.NoError(t, err)
	assert.True(t, same.Matches)

	_, err = (&statutory.Catalog{Store: s}).Supersede(ctx, payeSchedule("2025-03-01", nil))
	require.NoError(t, err)

	drift, err := recorder.Reproduce(ctx, calc, in, records[0])
	require.NoError(t, err)
	assert.False(t, drift.Matches)
}
