package statutory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/statutory"
)

func TestSupersede_ClosesPredecessorDayBefore(t *testing.T) {
	// GIVEN: Open-ended NSSF phase 2 from 2024-02-01
	// WHEN: Phase 3 is published from 2025-02-01
	// THEN: Phase 2 ends 2025-01-31 and phase 3 is version 2

	s := newStore(t)
	ctx := context.Background()
	phase2 := mustAddSchedule(t, s, nssfSchedule("2024-02-01", nil, "7000", "36000", "1740"))
	catalog := &statutory.Catalog{Store: s}

	phase3, err := catalog.Supersede(ctx, nssfSchedule("2025-02-01", nil, "8000", "72000", "3840"))
	require.NoError(t, err)

	old, err := s.Schedule(ctx, phase2)
	require.NoError(t, err)
	require.NotNil(t, old.EffectiveTo)
	assert.Equal(t, "2025-01-31", old.EffectiveTo.String())

	current, err := s.Schedule(ctx, phase3)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Nil(t, current.EffectiveTo)
}

func TestSupersede_InvalidSuccessorRollsBack(t *testing.T) {
	// GIVEN: An open-ended predecessor
	// WHEN: The successor has malformed brackets
	// THEN: The predecessor is left open

	s := newStore(t)
	ctx := context.Background()
	v1 := mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))

	bad := payeSchedule("2025-01-01", nil)
	bad.Brackets[1].LowerBound = dec("25000")
	_, err := (&statutory.Catalog{Store: s}).Supersede(ctx, bad)
	require.ErrorIs(t, err, statutory.ErrInvalidBracketConfiguration)

	old, err := s.Schedule(ctx, v1)
	require.NoError(t, err)
	assert.Nil(t, old.EffectiveTo, "predecessor must stay open after rollback")
}

func TestClose_OnlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))
	catalog := &statutory.Catalog{Store: s}

	require.NoError(t, catalog.Close(ctx, id, date("2024-06-30")))
	assert.ErrorIs(t, catalog.Close(ctx, id, date("2024-12-31")), statutory.ErrScheduleClosed)
}

func TestClose_BeforeStartRejected(t *testing.T) {
	s := newStore(t)
	id := mustAddSchedule(t, s, payeSchedule("2023-07-01", nil))

	err := s.CloseSchedule(context.Background(), id, date("2023-06-30"))
	assert.ErrorIs(t, err, statutory.ErrInvalidSchedule)
}

func TestSupersedeRelief(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	old := mustAddRelief(t, s, personalRelief("2021-01-01", nil))

	next := personalRelief("2026-07-01", nil)
	next.AmountOrRate = dec("2500")
	_, err := (&statutory.Catalog{Store: s}).SupersedeRelief(ctx, next)
	require.NoError(t, err)

	r, err := s.Relief(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, "2026-06-30", r.EffectiveTo.String())
}
