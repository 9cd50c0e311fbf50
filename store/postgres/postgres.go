/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces, for deployments where several engine instances share a catalog.

PURPOSE:
  Implements statutory.Store, statutory.TxStore, statutory.AuditLog and
  statutory.JurisdictionStore on pgx. Table layout matches store/sqlite
  with native DATE and JSONB columns.

CONCURRENCY:
  Writes to one deduction or relief type are serialized across processes
  with pg_advisory_xact_lock, taken before the overlap check reads the
  existing versions. The lock is released when the transaction ends.

GENERATION:
  Generation() counts writes made through this process. Resolver caches in
  other processes do not see them until restart, so run one writer.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node implementation
  - migrate.go, migrations/: Schema, applied by Migrate on New()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/statutory"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	generation atomic.Uint64
}

// Connect opens a pool with the engine's defaults.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an already migrated pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) Generation() uint64 { return s.generation.Load() }

func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.generation.Add(1)
	return nil
}

func lockType(ctx context.Context, q querier, kind statutory.RecordKind, name string) error {
	_, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", string(kind)+":"+name)
	if err != nil {
		return fmt.Errorf("failed to lock %s %s: %w", kind, name, err)
	}
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

const scheduleColumns = `id, deduction_type, version, method, effective_from, effective_to,
	brackets, cap_amount, floor_amount, regulatory_source, is_historical`

func (s *Store) AddSchedule(ctx context.Context, sched statutory.RateSchedule) (statutory.ScheduleID, error) {
	var id statutory.ScheduleID
	err := s.write(ctx, func(q querier) error {
		var err error
		id, err = addSchedule(ctx, q, sched)
		return err
	})
	return id, err
}

func addSchedule(ctx context.Context, q querier, sched statutory.RateSchedule) (statutory.ScheduleID, error) {
	if err := lockType(ctx, q, statutory.KindSchedule, string(sched.DeductionType)); err != nil {
		return "", err
	}
	existing, err := querySchedules(ctx, q, `WHERE deduction_type = $1 OR id = $2`, sched.DeductionType, sched.ID)
	if err != nil {
		return "", err
	}
	prepared, err := statutory.PrepareSchedule(existing, sched)
	if err != nil {
		return "", err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		prepared.ID,
		prepared.DeductionType,
		prepared.Version,
		prepared.Method,
		prepared.EffectiveFrom.Time(),
		dateArg(prepared.EffectiveTo),
		prepared.Brackets,
		decimalArg(prepared.CapAmount),
		decimalArg(prepared.FloorAmount),
		prepared.RegulatorySource,
		prepared.IsHistorical,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s version %d or id %s already exists",
				statutory.ErrVersionConflict, prepared.DeductionType, prepared.Version, prepared.ID)
		}
		return "", fmt.Errorf("failed to insert schedule: %w", err)
	}
	return prepared.ID, nil
}

func (s *Store) Schedules(ctx context.Context, t statutory.DeductionType) ([]statutory.RateSchedule, error) {
	return querySchedules(ctx, s.pool, `WHERE deduction_type = $1`, t)
}

func (s *Store) Schedule(ctx context.Context, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	return scheduleByID(ctx, s.pool, id)
}

func scheduleByID(ctx context.Context, q querier, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	rows, err := querySchedules(ctx, q, `WHERE id = $1`, id)
	if err != nil {
		return statutory.RateSchedule{}, err
	}
	if len(rows) == 0 {
		return statutory.RateSchedule{}, statutory.ErrScheduleNotFound
	}
	return rows[0], nil
}

func (s *Store) CloseSchedule(ctx context.Context, id statutory.ScheduleID, to statutory.Date) error {
	return s.write(ctx, func(q querier) error {
		return closeSchedule(ctx, q, id, to)
	})
}

func closeSchedule(ctx context.Context, q querier, id statutory.ScheduleID, to statutory.Date) error {
	current, err := scheduleByID(ctx, q, id)
	if err != nil {
		return err
	}
	if err := lockType(ctx, q, statutory.KindSchedule, string(current.DeductionType)); err != nil {
		return err
	}
	closed, err := statutory.PrepareScheduleClose(current, to)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE schedules SET effective_to = $1 WHERE id = $2 AND effective_to IS NULL`,
		closed.EffectiveTo.Time(), id)
	if err != nil {
		return fmt.Errorf("failed to close schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", statutory.ErrScheduleClosed, id)
	}
	return nil
}

func (s *Store) DeductionTypes(ctx context.Context) ([]statutory.DeductionType, error) {
	return queryStrings[statutory.DeductionType](ctx, s.pool,
		`SELECT DISTINCT deduction_type FROM schedules ORDER BY deduction_type`)
}

func querySchedules(ctx context.Context, q querier, where string, args ...any) ([]statutory.RateSchedule, error) {
	rows, err := q.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules `+where+` ORDER BY effective_from ASC, version ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []statutory.RateSchedule
	for rows.Next() {
		var (
			sched         statutory.RateSchedule
			effectiveFrom time.Time
			effectiveTo   *time.Time
			capAmount     *string
			floorAmount   *string
		)
		err := rows.Scan(
			&sched.ID, &sched.DeductionType, &sched.Version, &sched.Method,
			&effectiveFrom, &effectiveTo, &sched.Brackets, &capAmount, &floorAmount,
			&sched.RegulatorySource, &sched.IsHistorical,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		sched.EffectiveFrom = statutory.DateOf(effectiveFrom)
		sched.EffectiveTo = dateValue(effectiveTo)
		if sched.CapAmount, err = decimalValue(capAmount); err != nil {
			return nil, err
		}
		if sched.FloorAmount, err = decimalValue(floorAmount); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// =============================================================================
// RELIEFS
// =============================================================================

const reliefColumns = `id, relief_type, amount_or_rate, is_percentage, max_amount,
	effective_from, effective_to, regulatory_source`

func (s *Store) AddRelief(ctx context.Context, r statutory.Relief) (statutory.ReliefID, error) {
	var id statutory.ReliefID
	err := s.write(ctx, func(q querier) error {
		var err error
		id, err = addRelief(ctx, q, r)
		return err
	})
	return id, err
}

func addRelief(ctx context.Context, q querier, r statutory.Relief) (statutory.ReliefID, error) {
	if err := lockType(ctx, q, statutory.KindRelief, string(r.ReliefType)); err != nil {
		return "", err
	}
	existing, err := queryReliefs(ctx, q, `WHERE relief_type = $1 OR id = $2`, r.ReliefType, r.ID)
	if err != nil {
		return "", err
	}
	prepared, err := statutory.PrepareRelief(existing, r)
	if err != nil {
		return "", err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO reliefs (`+reliefColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		prepared.ID,
		prepared.ReliefType,
		prepared.AmountOrRate.String(),
		prepared.IsPercentage,
		decimalArg(prepared.MaxAmount),
		prepared.EffectiveFrom.Time(),
		dateArg(prepared.EffectiveTo),
		prepared.RegulatorySource,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: relief id %s already exists", statutory.ErrVersionConflict, prepared.ID)
		}
		return "", fmt.Errorf("failed to insert relief: %w", err)
	}
	return prepared.ID, nil
}

func (s *Store) Reliefs(ctx context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	return queryReliefs(ctx, s.pool, `WHERE relief_type = $1`, t)
}

func (s *Store) Relief(ctx context.Context, id statutory.ReliefID) (statutory.Relief, error) {
	return reliefByID(ctx, s.pool, id)
}

func reliefByID(ctx context.Context, q querier, id statutory.ReliefID) (statutory.Relief, error) {
	rows, err := queryReliefs(ctx, q, `WHERE id = $1`, id)
	if err != nil {
		return statutory.Relief{}, err
	}
	if len(rows) == 0 {
		return statutory.Relief{}, statutory.ErrReliefNotFound
	}
	return rows[0], nil
}

func (s *Store) RepealRelief(ctx context.Context, id statutory.ReliefID, to statutory.Date) error {
	return s.write(ctx, func(q querier) error {
		return repealRelief(ctx, q, id, to)
	})
}

func repealRelief(ctx context.Context, q querier, id statutory.ReliefID, to statutory.Date) error {
	current, err := reliefByID(ctx, q, id)
	if err != nil {
		return err
	}
	if err := lockType(ctx, q, statutory.KindRelief, string(current.ReliefType)); err != nil {
		return err
	}
	repealed, err := statutory.PrepareReliefRepeal(current, to)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE reliefs SET effective_to = $1 WHERE id = $2 AND effective_to IS NULL`,
		repealed.EffectiveTo.Time(), id)
	if err != nil {
		return fmt.Errorf("failed to repeal relief: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: relief %s", statutory.ErrScheduleClosed, id)
	}
	return nil
}

func (s *Store) ReliefTypes(ctx context.Context) ([]statutory.ReliefType, error) {
	return queryStrings[statutory.ReliefType](ctx, s.pool,
		`SELECT DISTINCT relief_type FROM reliefs ORDER BY relief_type`)
}

func queryReliefs(ctx context.Context, q querier, where string, args ...any) ([]statutory.Relief, error) {
	rows, err := q.Query(ctx,
		`SELECT `+reliefColumns+` FROM reliefs `+where+` ORDER BY effective_from ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reliefs: %w", err)
	}
	defer rows.Close()

	var reliefs []statutory.Relief
	for rows.Next() {
		var (
			r             statutory.Relief
			amount        string
			maxAmount     *string
			effectiveFrom time.Time
			effectiveTo   *time.Time
		)
		if err := rows.Scan(&r.ID, &r.ReliefType, &amount, &r.IsPercentage, &maxAmount,
			&effectiveFrom, &effectiveTo, &r.RegulatorySource); err != nil {
			return nil, fmt.Errorf("failed to scan relief: %w", err)
		}
		if r.AmountOrRate, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("relief %s: bad amount %q: %w", r.ID, amount, err)
		}
		if r.MaxAmount, err = decimalValue(maxAmount); err != nil {
			return nil, err
		}
		r.EffectiveFrom = statutory.DateOf(effectiveFrom)
		r.EffectiveTo = dateValue(effectiveTo)
		reliefs = append(reliefs, r)
	}
	return reliefs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (statutory.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store statutory.Store) error) error {
	return s.write(ctx, func(q querier) error {
		return fn(&txStore{q: q, parent: s})
	})
}

type txStore struct {
	q      querier
	parent *Store
}

func (ts *txStore) AddSchedule(ctx context.Context, sched statutory.RateSchedule) (statutory.ScheduleID, error) {
	return addSchedule(ctx, ts.q, sched)
}

func (ts *txStore) AddRelief(ctx context.Context, r statutory.Relief) (statutory.ReliefID, error) {
	return addRelief(ctx, ts.q, r)
}

func (ts *txStore) Schedules(ctx context.Context, t statutory.DeductionType) ([]statutory.RateSchedule, error) {
	return querySchedules(ctx, ts.q, `WHERE deduction_type = $1`, t)
}

func (ts *txStore) Reliefs(ctx context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	return queryReliefs(ctx, ts.q, `WHERE relief_type = $1`, t)
}

func (ts *txStore) Schedule(ctx context.Context, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	return scheduleByID(ctx, ts.q, id)
}

func (ts *txStore) Relief(ctx context.Context, id statutory.ReliefID) (statutory.Relief, error) {
	return reliefByID(ctx, ts.q, id)
}

func (ts *txStore) CloseSchedule(ctx context.Context, id statutory.ScheduleID, to statutory.Date) error {
	return closeSchedule(ctx, ts.q, id, to)
}

func (ts *txStore) RepealRelief(ctx context.Context, id statutory.ReliefID, to statutory.Date) error {
	return repealRelief(ctx, ts.q, id, to)
}

func (ts *txStore) DeductionTypes(ctx context.Context) ([]statutory.DeductionType, error) {
	return queryStrings[statutory.DeductionType](ctx, ts.q,
		`SELECT DISTINCT deduction_type FROM schedules ORDER BY deduction_type`)
}

func (ts *txStore) ReliefTypes(ctx context.Context) ([]statutory.ReliefType, error) {
	return queryStrings[statutory.ReliefType](ctx, ts.q,
		`SELECT DISTINCT relief_type FROM reliefs ORDER BY relief_type`)
}

func (ts *txStore) Generation() uint64 { return ts.parent.Generation() }

// =============================================================================
// JURISDICTION (statutory.JurisdictionStore interface)
// =============================================================================

// SaveJurisdiction replaces the stored jurisdiction. It is not catalog
// data, so the generation does not move.
func (s *Store) SaveJurisdiction(ctx context.Context, j statutory.Jurisdiction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jurisdiction (id, code, rules, saved_at) VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, rules = EXCLUDED.rules, saved_at = EXCLUDED.saved_at`,
		j.Code, j.Rules)
	if err != nil {
		return fmt.Errorf("failed to save jurisdiction: %w", err)
	}
	return nil
}

func (s *Store) LoadJurisdiction(ctx context.Context) (statutory.Jurisdiction, error) {
	var j statutory.Jurisdiction
	err := s.pool.QueryRow(ctx, `SELECT code, rules FROM jurisdiction WHERE id = 1`).Scan(&j.Code, &j.Rules)
	if errors.Is(err, pgx.ErrNoRows) {
		return statutory.Jurisdiction{}, statutory.ErrNoJurisdiction
	}
	if err != nil {
		return statutory.Jurisdiction{}, fmt.Errorf("failed to load jurisdiction: %w", err)
	}
	return j, nil
}

// =============================================================================
// AUDIT LOG (statutory.AuditLog interface)
// =============================================================================

const auditColumns = `id, employee_id, period_id, pay_date, deduction_type, schedule_id, schedule_version,
	regulatory_source, relief_ids, was_overridden, taxable_base, gross_liability,
	relief_applied, net_amount, bracket_trace, fingerprint, computed_at`

// Append sends every insert in one batch inside one transaction.
func (s *Store) Append(ctx context.Context, records []statutory.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, rec := range records {
		reliefIDs := rec.ReliefIDs
		if reliefIDs == nil {
			reliefIDs = []statutory.ReliefID{}
		}
		trace := rec.BracketTrace
		if trace == nil {
			trace = []statutory.BracketContribution{}
		}
		batch.Queue(`INSERT INTO audit_records (`+auditColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			rec.ID, rec.EmployeeID, rec.PeriodID, rec.PayDate.Time(), rec.DeductionType,
			rec.ScheduleID, rec.ScheduleVersion, rec.RegulatorySource, reliefIDs,
			rec.WasOverridden, rec.TaxableBase.String(), rec.GrossLiability.String(),
			rec.ReliefApplied.String(), rec.NetAmount.String(), trace, rec.Fingerprint,
			rec.ComputedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert audit records: %w", err)
	}
	return tx.Commit(ctx)
}

// Query returns matching records in insertion order.
func (s *Store) Query(ctx context.Context, filter statutory.AuditFilter) ([]statutory.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.EmployeeID != "" {
		add("employee_id = $%d", filter.EmployeeID)
	}
	if filter.PeriodID != "" {
		add("period_id = $%d", filter.PeriodID)
	}
	if filter.DeductionType != "" {
		add("deduction_type = $%d", filter.DeductionType)
	}
	if filter.ScheduleID != "" {
		add("schedule_id = $%d", filter.ScheduleID)
	}
	if filter.From != nil {
		add("pay_date >= $%d", filter.From.Time())
	}
	if filter.To != nil {
		add("pay_date <= $%d", filter.To.Time())
	}

	query := `SELECT ` + auditColumns + ` FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []statutory.AuditRecord
	for rows.Next() {
		var (
			rec           statutory.AuditRecord
			payDate       time.Time
			taxableBase   string
			gross         string
			reliefApplied string
			netAmount     string
		)
		err := rows.Scan(&rec.ID, &rec.EmployeeID, &rec.PeriodID, &payDate, &rec.DeductionType,
			&rec.ScheduleID, &rec.ScheduleVersion, &rec.RegulatorySource, &rec.ReliefIDs, &rec.WasOverridden,
			&taxableBase, &gross, &reliefApplied, &netAmount, &rec.BracketTrace, &rec.Fingerprint, &rec.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.PayDate = statutory.DateOf(payDate)
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&rec.TaxableBase, taxableBase},
			{&rec.GrossLiability, gross},
			{&rec.ReliefApplied, reliefApplied},
			{&rec.NetAmount, netAmount},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("audit record %s: bad amount %q: %w", rec.ID, f.src, err)
			}
		}
		if len(rec.ReliefIDs) == 0 {
			rec.ReliefIDs = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func queryStrings[T ~string](ctx context.Context, q querier, query string) ([]T, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, T(v))
	}
	return out, rows.Err()
}

func dateArg(d *statutory.Date) any {
	if d == nil {
		return nil
	}
	return d.Time()
}

func dateValue(t *time.Time) *statutory.Date {
	if t == nil {
		return nil
	}
	return statutory.DateOf(*t).Ptr()
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalValue(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("bad decimal %q: %w", *s, err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
