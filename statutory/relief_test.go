package statutory_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
)

func housingLevyRelief(from string, to *statutory.Date) statutory.Relief {
	return statutory.Relief{
		ReliefType:       statutory.ReliefHousingLevy,
		AmountOrRate:     dec("0.15"),
		IsPercentage:     true,
		MaxAmount:        bound("9000"),
		EffectiveFrom:    date(from),
		EffectiveTo:      to,
		RegulatorySource: "Finance Act 2023, s.30B",
	}
}

func TestReliefEngine_Apply(t *testing.T) {
	tests := []struct {
		name      string
		relief    statutory.Relief
		payDate   string
		liability string
		want      string
		applied   bool
	}{
		{
			name:      "flat relief below liability",
			relief:    personalRelief("2017-01-01", nil),
			payDate:   "2024-06-30",
			liability: "7383.35",
			want:      "2400.00",
			applied:   true,
		},
		{
			name:      "flat relief capped at liability",
			relief:    personalRelief("2017-01-01", nil),
			payDate:   "2024-06-30",
			liability: "1500",
			want:      "1500.00",
			applied:   true,
		},
		{
			name:      "zero liability credits nothing",
			relief:    personalRelief("2017-01-01", nil),
			payDate:   "2024-06-30",
			liability: "0",
			want:      "0.00",
			applied:   true,
		},
		{
			name:      "percentage of liability",
			relief:    housingLevyRelief("2023-07-01", nil),
			payDate:   "2024-06-30",
			liability: "1500",
			want:      "225.00",
			applied:   true,
		},
		{
			name:      "percentage bounded by max amount",
			relief:    housingLevyRelief("2023-07-01", nil),
			payDate:   "2024-06-30",
			liability: "100000",
			want:      "9000.00",
			applied:   true,
		},
		{
			name:      "not yet in force",
			relief:    housingLevyRelief("2023-07-01", nil),
			payDate:   "2023-06-30",
			liability: "1500",
			want:      "0.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			id := mustAddRelief(t, s, tt.relief)
			engine := statutory.NewReliefEngine(s, nil)

			app, err := engine.Apply(context.Background(), tt.relief.ReliefType, date(tt.payDate), dec(tt.liability))
			require.NoError(t, err)
			assertMoney(t, tt.want, app.Amount)
			if tt.applied {
				assert.Equal(t, id, app.ReliefID)
				assert.Equal(t, tt.relief.RegulatorySource, app.RegulatorySource)
			} else {
				assert.Empty(t, app.ReliefID)
			}
		})
	}
}

func TestReliefEngine_RepealCutoff(t *testing.T) {
	// GIVEN: Personal relief repealed with effect from 2025-01-01
	// WHEN: Applied on the last in-force day and the first repealed day
	// THEN: The first credits 2400, the second credits nothing without error

	s := newStore(t)
	id := mustAddRelief(t, s, personalRelief("2017-01-01", date("2024-12-31").Ptr()))
	engine := statutory.NewReliefEngine(s, nil)
	ctx := context.Background()

	dec31, err := engine.Apply(ctx, statutory.ReliefPersonal, date("2024-12-31"), dec("7383.35"))
	require.NoError(t, err)
	assert.Equal(t, id, dec31.ReliefID)
	assertMoney(t, "2400.00", dec31.Amount)

	jan1, err := engine.Apply(ctx, statutory.ReliefPersonal, date("2025-01-01"), dec("7383.35"))
	require.NoError(t, err)
	assert.Empty(t, jan1.ReliefID)
	assert.Equal(t, statutory.ReliefPersonal, jan1.ReliefType)
	assertMoney(t, "0.00", jan1.Amount)
}

func TestReliefEngine_RepealAfterCaching(t *testing.T) {
	// GIVEN: A relief already resolved once for 2025-01-31
	// WHEN: It is repealed from 2025-01-01 afterwards
	// THEN: The next lookup for the same date sees the repeal

	s := newStore(t)
	ctx := context.Background()
	id := mustAddRelief(t, s, personalRelief("2017-01-01", nil))
	engine := statutory.NewReliefEngine(s, nil)

	before, err := engine.Apply(ctx, statutory.ReliefPersonal, date("2025-01-31"), dec("5000"))
	require.NoError(t, err)
	assertMoney(t, "2400.00", before.Amount)

	require.NoError(t, s.RepealRelief(ctx, id, date("2024-12-31")))

	after, err := engine.Apply(ctx, statutory.ReliefPersonal, date("2025-01-31"), dec("5000"))
	require.NoError(t, err)
	assertMoney(t, "0.00", after.Amount)
}

func TestReliefEngine_ApplyOnStacksAgainstRemaining(t *testing.T) {
	// GIVEN: 15% housing levy relief on a 1500 levy, then personal relief
	// WHEN: Both are credited in turn against 2000 of income tax
	// THEN: The levy relief takes 225 and personal relief is capped at 1775

	s := newStore(t)
	mustAddRelief(t, s, housingLevyRelief("2023-07-01", nil))
	mustAddRelief(t, s, personalRelief("2017-01-01", nil))
	engine := statutory.NewReliefEngine(s, nil)
	ctx := context.Background()
	payDate := date("2024-06-30")

	remaining := dec("2000")
	levy, err := engine.ApplyOn(ctx, statutory.ReliefHousingLevy, payDate, dec("1500"), remaining)
	require.NoError(t, err)
	assertMoney(t, "225.00", levy.Amount)
	remaining = remaining.Sub(levy.Amount)

	personal, err := engine.ApplyOn(ctx, statutory.ReliefPersonal, payDate, remaining, remaining)
	require.NoError(t, err)
	assertMoney(t, "1775.00", personal.Amount)
	assertMoney(t, "0.00", remaining.Sub(personal.Amount))
}

func TestReliefEngine_NoVersionsCreditsZero(t *testing.T) {
	engine := statutory.NewReliefEngine(newStore(t), nil)

	app, err := engine.Apply(context.Background(), statutory.ReliefHealthLevy, date("2025-03-31"), dec("1000"))
	require.NoError(t, err)
	assert.Empty(t, app.ReliefID)
	assertMoney(t, "0.00", app.Amount)
}

func TestReliefAmount_Bounds(t *testing.T) {
	flat := personalRelief("2017-01-01", nil)

	assertMoney(t, "0.00", statutory.ReliefAmount(flat, dec("5000"), dec("-10")))
	assertMoney(t, "2400.00", statutory.ReliefAmount(flat, dec("0"), dec("5000")))

	pct := housingLevyRelief("2023-07-01", nil)
	assertMoney(t, "0.00", statutory.ReliefAmount(pct, dec("-100"), dec("5000")))
	assertMoney(t, "0.02", statutory.ReliefAmount(pct, dec("0.10"), dec("5000")))
}

// interleavedStore runs hook once, after the first Reliefs read has been
// taken but before the caller has cached it.
type interleavedStore struct {
	statutory.Store
	hook  func()
	reads atomic.Int32
}

func (s *interleavedStore) Reliefs(ctx context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	out, err := s.Store.Reliefs(ctx, t)
	if s.reads.Add(1) == 1 && s.hook != nil {
		s.hook()
	}
	return out, err
}

func TestReliefEngine_StaleLookupDoesNotReplaceNewerCache(t *testing.T) {
	// GIVEN: A lookup that read the catalog before personal relief was repealed
	// WHEN: A newer lookup caches the repeal while the first one is still running
	// THEN: The stale result is returned to its caller but not cached,
	//       and later lookups are served the repeal from the cache

	mem := newStore(t)
	ctx := context.Background()
	id := mustAddRelief(t, mem, personalRelief("2017-01-01", nil))
	s := &interleavedStore{Store: mem}
	engine := statutory.NewReliefEngine(s, nil)
	payDate := date("2025-01-31")

	s.hook = func() {
		require.NoError(t, mem.RepealRelief(ctx, id, date("2024-12-31")))
		fresh, err := engine.Active(ctx, statutory.ReliefPersonal, payDate)
		require.NoError(t, err)
		assert.Nil(t, fresh)
	}

	stale, err := engine.Active(ctx, statutory.ReliefPersonal, payDate)
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Equal(t, id, stale.ID)
	require.EqualValues(t, 2, s.reads.Load())

	again, err := engine.Active(ctx, statutory.ReliefPersonal, payDate)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.EqualValues(t, 2, s.reads.Load(), "repeal should be served from cache")
}
