// Package store provides the in-memory Store and AuditLog.
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/warp/statutory-engine/statutory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (tests, CLI, dev server)
// =============================================================================

// Memory copies versions on the way in and out; callers never share
// brackets or pointers with stored state.
type Memory struct {
	mu           sync.RWMutex
	schedules    map[statutory.DeductionType][]statutory.RateSchedule
	reliefs      map[statutory.ReliefType][]statutory.Relief
	audit        []statutory.AuditRecord
	jurisdiction *statutory.Jurisdiction
	generation   atomic.Uint64
}

func NewMemory() *Memory {
	return &Memory{
		schedules: make(map[statutory.DeductionType][]statutory.RateSchedule),
		reliefs:   make(map[statutory.ReliefType][]statutory.Relief),
	}
}

func (m *Memory) Generation() uint64 { return m.generation.Load() }

func (m *Memory) AddSchedule(_ context.Context, s statutory.RateSchedule) (statutory.ScheduleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.addScheduleLocked(s)
	if err == nil {
		m.generation.Add(1)
	}
	return id, err
}

func (m *Memory) addScheduleLocked(s statutory.RateSchedule) (statutory.ScheduleID, error) {
	var all []statutory.RateSchedule
	for _, versions := range m.schedules {
		all = append(all, versions...)
	}
	prepared, err := statutory.PrepareSchedule(all, s)
	if err != nil {
		return "", err
	}
	versions := append(m.schedules[s.DeductionType], prepared.Clone())
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom)
	})
	m.schedules[s.DeductionType] = versions
	return prepared.ID, nil
}

func (m *Memory) AddRelief(_ context.Context, r statutory.Relief) (statutory.ReliefID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.addReliefLocked(r)
	if err == nil {
		m.generation.Add(1)
	}
	return id, err
}

func (m *Memory) addReliefLocked(r statutory.Relief) (statutory.ReliefID, error) {
	var all []statutory.Relief
	for _, versions := range m.reliefs {
		all = append(all, versions...)
	}
	prepared, err := statutory.PrepareRelief(all, r)
	if err != nil {
		return "", err
	}
	versions := append(m.reliefs[r.ReliefType], prepared.Clone())
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom)
	})
	m.reliefs[r.ReliefType] = versions
	return prepared.ID, nil
}

func (m *Memory) Schedules(_ context.Context, t statutory.DeductionType) ([]statutory.RateSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedulesLocked(t), nil
}

func (m *Memory) schedulesLocked(t statutory.DeductionType) []statutory.RateSchedule {
	result := make([]statutory.RateSchedule, len(m.schedules[t]))
	for i, s := range m.schedules[t] {
		result[i] = s.Clone()
	}
	return result
}

func (m *Memory) Reliefs(_ context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reliefsLocked(t), nil
}

func (m *Memory) reliefsLocked(t statutory.ReliefType) []statutory.Relief {
	result := make([]statutory.Relief, len(m.reliefs[t]))
	for i, r := range m.reliefs[t] {
		result[i] = r.Clone()
	}
	return result
}

func (m *Memory) Schedule(_ context.Context, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scheduleLocked(id)
}

func (m *Memory) scheduleLocked(id statutory.ScheduleID) (statutory.RateSchedule, error) {
	t, i, ok := m.findScheduleLocked(id)
	if !ok {
		return statutory.RateSchedule{}, statutory.ErrScheduleNotFound
	}
	return m.schedules[t][i].Clone(), nil
}

func (m *Memory) findScheduleLocked(id statutory.ScheduleID) (statutory.DeductionType, int, bool) {
	for t, versions := range m.schedules {
		for i, s := range versions {
			if s.ID == id {
				return t, i, true
			}
		}
	}
	return "", 0, false
}

func (m *Memory) Relief(_ context.Context, id statutory.ReliefID) (statutory.Relief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reliefLocked(id)
}

func (m *Memory) reliefLocked(id statutory.ReliefID) (statutory.Relief, error) {
	t, i, ok := m.findReliefLocked(id)
	if !ok {
		return statutory.Relief{}, statutory.ErrReliefNotFound
	}
	return m.reliefs[t][i].Clone(), nil
}

func (m *Memory) findReliefLocked(id statutory.ReliefID) (statutory.ReliefType, int, bool) {
	for t, versions := range m.reliefs {
		for i, r := range versions {
			if r.ID == id {
				return t, i, true
			}
		}
	}
	return "", 0, false
}

func (m *Memory) CloseSchedule(_ context.Context, id statutory.ScheduleID, to statutory.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeScheduleLocked(id, to); err != nil {
		return err
	}
	m.generation.Add(1)
	return nil
}

func (m *Memory) closeScheduleLocked(id statutory.ScheduleID, to statutory.Date) error {
	t, i, ok := m.findScheduleLocked(id)
	if !ok {
		return statutory.ErrScheduleNotFound
	}
	closed, err := statutory.PrepareScheduleClose(m.schedules[t][i], to)
	if err != nil {
		return err
	}
	m.schedules[t][i] = closed
	return nil
}

func (m *Memory) RepealRelief(_ context.Context, id statutory.ReliefID, to statutory.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repealReliefLocked(id, to); err != nil {
		return err
	}
	m.generation.Add(1)
	return nil
}

func (m *Memory) repealReliefLocked(id statutory.ReliefID, to statutory.Date) error {
	t, i, ok := m.findReliefLocked(id)
	if !ok {
		return statutory.ErrReliefNotFound
	}
	repealed, err := statutory.PrepareReliefRepeal(m.reliefs[t][i], to)
	if err != nil {
		return err
	}
	m.reliefs[t][i] = repealed
	return nil
}

func (m *Memory) DeductionTypes(_ context.Context) ([]statutory.DeductionType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deductionTypesLocked(), nil
}

func (m *Memory) deductionTypesLocked() []statutory.DeductionType {
	types := make([]statutory.DeductionType, 0, len(m.schedules))
	for t, versions := range m.schedules {
		if len(versions) > 0 {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (m *Memory) ReliefTypes(_ context.Context) ([]statutory.ReliefType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reliefTypesLocked(), nil
}

func (m *Memory) reliefTypesLocked() []statutory.ReliefType {
	types := make([]statutory.ReliefType, 0, len(m.reliefs))
	for t, versions := range m.reliefs {
		if len(versions) > 0 {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Reset drops the whole catalog and audit log.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[statutory.DeductionType][]statutory.RateSchedule)
	m.reliefs = make(map[statutory.ReliefType][]statutory.Relief)
	m.audit = nil
	m.jurisdiction = nil
	m.generation.Add(1)
	return nil
}

// =============================================================================
// JURISDICTION
// =============================================================================

func (m *Memory) SaveJurisdiction(_ context.Context, j statutory.Jurisdiction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := j.Clone()
	m.jurisdiction = &saved
	return nil
}

func (m *Memory) LoadJurisdiction(_ context.Context) (statutory.Jurisdiction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.jurisdiction == nil {
		return statutory.Jurisdiction{}, statutory.ErrNoJurisdiction
	}
	return m.jurisdiction.Clone(), nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, records []statutory.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, records...)
	return nil
}

func (m *Memory) Query(_ context.Context, filter statutory.AuditFilter) ([]statutory.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []statutory.AuditRecord
	for _, rec := range m.audit {
		if !filter.Matches(rec) {
			continue
		}
		result = append(result, rec)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(statutory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	if view.wrote {
		m.generation.Add(1)
	}
	return nil
}

type memorySnapshot struct {
	schedules map[statutory.DeductionType][]statutory.RateSchedule
	reliefs   map[statutory.ReliefType][]statutory.Relief
}

func (m *Memory) snapshot() memorySnapshot {
	snap := memorySnapshot{
		schedules: make(map[statutory.DeductionType][]statutory.RateSchedule, len(m.schedules)),
		reliefs:   make(map[statutory.ReliefType][]statutory.Relief, len(m.reliefs)),
	}
	for t, versions := range m.schedules {
		snap.schedules[t] = append([]statutory.RateSchedule(nil), versions...)
	}
	for t, versions := range m.reliefs {
		snap.reliefs[t] = append([]statutory.Relief(nil), versions...)
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.schedules = snap.schedules
	m.reliefs = snap.reliefs
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
	wrote  bool
}

func (tv *txMemoryView) AddSchedule(_ context.Context, s statutory.RateSchedule) (statutory.ScheduleID, error) {
	id, err := tv.parent.addScheduleLocked(s)
	tv.wrote = tv.wrote || err == nil
	return id, err
}

func (tv *txMemoryView) AddRelief(_ context.Context, r statutory.Relief) (statutory.ReliefID, error) {
	id, err := tv.parent.addReliefLocked(r)
	tv.wrote = tv.wrote || err == nil
	return id, err
}

func (tv *txMemoryView) Schedules(_ context.Context, t statutory.DeductionType) ([]statutory.RateSchedule, error) {
	return tv.parent.schedulesLocked(t), nil
}

func (tv *txMemoryView) Reliefs(_ context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	return tv.parent.reliefsLocked(t), nil
}

func (tv *txMemoryView) Schedule(_ context.Context, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	return tv.parent.scheduleLocked(id)
}

func (tv *txMemoryView) Relief(_ context.Context, id statutory.ReliefID) (statutory.Relief, error) {
	return tv.parent.reliefLocked(id)
}

func (tv *txMemoryView) CloseSchedule(_ context.Context, id statutory.ScheduleID, to statutory.Date) error {
	err := tv.parent.closeScheduleLocked(id, to)
	tv.wrote = tv.wrote || err == nil
	return err
}

func (tv *txMemoryView) RepealRelief(_ context.Context, id statutory.ReliefID, to statutory.Date) error {
	err := tv.parent.repealReliefLocked(id, to)
	tv.wrote = tv.wrote || err == nil
	return err
}

func (tv *txMemoryView) DeductionTypes(_ context.Context) ([]statutory.DeductionType, error) {
	return tv.parent.deductionTypesLocked(), nil
}

func (tv *txMemoryView) ReliefTypes(_ context.Context) ([]statutory.ReliefType, error) {
	return tv.parent.reliefTypesLocked(), nil
}

func (tv *txMemoryView) Generation() uint64 { return tv.parent.generation.Load() }
