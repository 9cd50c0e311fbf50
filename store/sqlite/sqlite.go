/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements statutory.Store, statutory.TxStore, statutory.AuditLog and
  statutory.JurisdictionStore using SQLite. The PostgreSQL store
  (store/postgres) follows the same layout with dialect differences only.

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on any table
  - The only UPDATE sets effective_to on a row where it is still NULL
  - audit_records is insert-only
  - jurisdiction is configuration, not catalog: its one row is upserted

KEY TABLES:
  schedules:     Every version of every rate schedule (brackets as JSON)
  reliefs:       Every version of every relief
  audit_records: One row per computed deduction
  jurisdiction:  The installed rule set, a single row replaced on save

STORAGE FORMATS:
  - Money and rates: TEXT decimal strings (no float rounding)
  - Dates: TEXT YYYY-MM-DD, so string comparison is date comparison
  - Brackets and traces: JSON with decimal strings

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Overlap and version checks run
  inside the write lock and the same SQL transaction as the insert.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/statutory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - statutory/store.go: Interface definitions
  - statutory/validate.go: PrepareSchedule / PrepareRelief
  - statutory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/statutory"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	generation atomic.Uint64
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rate schedules (one row per version)
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		deduction_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		method TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		brackets_json TEXT NOT NULL,
		cap_amount TEXT,
		floor_amount TEXT,
		regulatory_source TEXT NOT NULL DEFAULT '',
		is_historical BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		UNIQUE(deduction_type, version)
	);

	-- Resolution hot path: all versions of a type in date order
	CREATE INDEX IF NOT EXISTS idx_schedules_type_from
		ON schedules(deduction_type, effective_from);

	-- Reliefs (one row per version)
	CREATE TABLE IF NOT EXISTS reliefs (
		id TEXT PRIMARY KEY,
		relief_type TEXT NOT NULL,
		amount_or_rate TEXT NOT NULL,
		is_percentage BOOLEAN NOT NULL DEFAULT FALSE,
		max_amount TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		regulatory_source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reliefs_type_from
		ON reliefs(relief_type, effective_from);

	-- Calculation audit trail (insert-only)
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_id TEXT NOT NULL DEFAULT '',
		pay_date TEXT NOT NULL,
		deduction_type TEXT NOT NULL,
		schedule_id TEXT NOT NULL,
		schedule_version INTEGER NOT NULL,
		regulatory_source TEXT NOT NULL DEFAULT '',
		relief_ids_json TEXT NOT NULL,
		was_overridden BOOLEAN NOT NULL DEFAULT FALSE,
		taxable_base TEXT NOT NULL,
		gross_liability TEXT NOT NULL,
		relief_applied TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		bracket_trace_json TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		computed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee_date
		ON audit_records(employee_id, pay_date);
	CREATE INDEX IF NOT EXISTS idx_audit_schedule
		ON audit_records(schedule_id);

	-- Installed jurisdiction (at most one row)
	CREATE TABLE IF NOT EXISTS jurisdiction (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		code TEXT NOT NULL,
		rules_json TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Generation() uint64 { return s.generation.Load() }

// write runs fn in its own SQL transaction under the write lock and bumps
// the generation on commit.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.generation.Add(1)
	return nil
}

// Reset deletes the whole catalog, the jurisdiction and the audit log
// (demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	return s.write(ctx, func(q querier) error {
		for _, table := range []string{"audit_records", "reliefs", "schedules", "jurisdiction"} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// SCHEDULES
// =============================================================================

const scheduleColumns = `id, deduction_type, version, method, effective_from, effective_to,
	brackets_json, cap_amount, floor_amount, regulatory_source, is_historical`

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
	existing, err := querySchedules(ctx, q, `WHERE deduction_type = ? OR id = ?`, sched.DeductionType, sched.ID)
	if err != nil {
		return "", err
	}
	prepared, err := statutory.PrepareSchedule(existing, sched)
	if err != nil {
		return "", err
	}

	brackets, err := json.Marshal(prepared.Brackets)
	if err != nil {
		return "", fmt.Errorf("failed to encode brackets: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prepared.ID,
		prepared.DeductionType,
		prepared.Version,
		prepared.Method,
		prepared.EffectiveFrom.String(),
		nullDate(prepared.EffectiveTo),
		string(brackets),
		nullDecimal(prepared.CapAmount),
		nullDecimal(prepared.FloorAmount),
		prepared.RegulatorySource,
		prepared.IsHistorical,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("%w: %s version %d or id %s already exists",
				statutory.ErrVersionConflict, prepared.DeductionType, prepared.Version, prepared.ID)
		}
		return "", fmt.Errorf("failed to insert schedule: %w", err)
	}
	return prepared.ID, nil
}

func (s *Store) Schedules(ctx context.Context, t statutory.DeductionType) ([]statutory.RateSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySchedules(ctx, s.db, `WHERE deduction_type = ?`, t)
}

func (s *Store) Schedule(ctx context.Context, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scheduleByID(ctx, s.db, id)
}

func scheduleByID(ctx context.Context, q querier, id statutory.ScheduleID) (statutory.RateSchedule, error) {
	rows, err := querySchedules(ctx, q, `WHERE id = ?`, id)
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
	closed, err := statutory.PrepareScheduleClose(current, to)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE schedules SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
		closed.EffectiveTo.String(), id)
	if err != nil {
		return fmt.Errorf("failed to close schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: schedule %s", statutory.ErrScheduleClosed, id)
	}
	return nil
}

func (s *Store) DeductionTypes(ctx context.Context) ([]statutory.DeductionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryStrings[statutory.DeductionType](ctx, s.db,
		`SELECT DISTINCT deduction_type FROM schedules ORDER BY deduction_type`)
}

func querySchedules(ctx context.Context, q querier, where string, args ...any) ([]statutory.RateSchedule, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules `+where+` ORDER BY effective_from ASC, version ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []statutory.RateSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func scanSchedule(rows *sql.Rows) (statutory.RateSchedule, error) {
	var (
		sched         statutory.RateSchedule
		effectiveFrom string
		effectiveTo   sql.NullString
		brackets      string
		capAmount     sql.NullString
		floorAmount   sql.NullString
	)
	err := rows.Scan(
		&sched.ID, &sched.DeductionType, &sched.Version, &sched.Method,
		&effectiveFrom, &effectiveTo, &brackets, &capAmount, &floorAmount,
		&sched.RegulatorySource, &sched.IsHistorical,
	)
	if err != nil {
		return sched, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if sched.EffectiveFrom, err = statutory.ParseDate(effectiveFrom); err != nil {
		return sched, err
	}
	if sched.EffectiveTo, err = parseNullDate(effectiveTo); err != nil {
		return sched, err
	}
	if err := json.Unmarshal([]byte(brackets), &sched.Brackets); err != nil {
		return sched, fmt.Errorf("failed to decode brackets of %s: %w", sched.ID, err)
	}
	if sched.CapAmount, err = parseNullDecimal(capAmount); err != nil {
		return sched, err
	}
	if sched.FloorAmount, err = parseNullDecimal(floorAmount); err != nil {
		return sched, err
	}
	return sched, nil
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
	existing, err := queryReliefs(ctx, q, `WHERE relief_type = ? OR id = ?`, r.ReliefType, r.ID)
	if err != nil {
		return "", err
	}
	prepared, err := statutory.PrepareRelief(existing, r)
	if err != nil {
		return "", err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO reliefs (`+reliefColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prepared.ID,
		prepared.ReliefType,
		prepared.AmountOrRate.String(),
		prepared.IsPercentage,
		nullDecimal(prepared.MaxAmount),
		prepared.EffectiveFrom.String(),
		nullDate(prepared.EffectiveTo),
		prepared.RegulatorySource,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("%w: relief id %s already exists", statutory.ErrVersionConflict, prepared.ID)
		}
		return "", fmt.Errorf("failed to insert relief: %w", err)
	}
	return prepared.ID, nil
}

func (s *Store) Reliefs(ctx context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryReliefs(ctx, s.db, `WHERE relief_type = ?`, t)
}

func (s *Store) Relief(ctx context.Context, id statutory.ReliefID) (statutory.Relief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reliefByID(ctx, s.db, id)
}

func reliefByID(ctx context.Context, q querier, id statutory.ReliefID) (statutory.Relief, error) {
	rows, err := queryReliefs(ctx, q, `WHERE id = ?`, id)
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
	repealed, err := statutory.PrepareReliefRepeal(current, to)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE reliefs SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
		repealed.EffectiveTo.String(), id)
	if err != nil {
		return fmt.Errorf("failed to repeal relief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: relief %s", statutory.ErrScheduleClosed, id)
	}
	return nil
}

func (s *Store) ReliefTypes(ctx context.Context) ([]statutory.ReliefType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryStrings[statutory.ReliefType](ctx, s.db,
		`SELECT DISTINCT relief_type FROM reliefs ORDER BY relief_type`)
}

func queryReliefs(ctx context.Context, q querier, where string, args ...any) ([]statutory.Relief, error) {
	rows, err := q.QueryContext(ctx,
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
			maxAmount     sql.NullString
			effectiveFrom string
			effectiveTo   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ReliefType, &amount, &r.IsPercentage, &maxAmount,
			&effectiveFrom, &effectiveTo, &r.RegulatorySource); err != nil {
			return nil, fmt.Errorf("failed to scan relief: %w", err)
		}
		if r.AmountOrRate, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("relief %s: bad amount %q: %w", r.ID, amount, err)
		}
		if r.MaxAmount, err = parseNullDecimal(maxAmount); err != nil {
			return nil, err
		}
		if r.EffectiveFrom, err = statutory.ParseDate(effectiveFrom); err != nil {
			return nil, err
		}
		if r.EffectiveTo, err = parseNullDate(effectiveTo); err != nil {
			return nil, err
		}
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

// txStore runs inside WithTx, which already holds the write lock.
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
	return querySchedules(ctx, ts.q, `WHERE deduction_type = ?`, t)
}

func (ts *txStore) Reliefs(ctx context.Context, t statutory.ReliefType) ([]statutory.Relief, error) {
	return queryReliefs(ctx, ts.q, `WHERE relief_type = ?`, t)
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

// SaveJurisdiction replaces the stored jurisdiction. Catalog readers are
// unaffected, so the generation does not move.
func (s *Store) SaveJurisdiction(ctx context.Context, j statutory.Jurisdiction) error {
	rules, err := json.Marshal(j.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode jurisdiction rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jurisdiction (id, code, rules_json, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			rules_json = excluded.rules_json,
			saved_at = excluded.saved_at`,
		j.Code, string(rules), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save jurisdiction: %w", err)
	}
	return nil
}

func (s *Store) LoadJurisdiction(ctx context.Context) (statutory.Jurisdiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		j     statutory.Jurisdiction
		rules string
	)
	err := s.db.QueryRowContext(ctx, `SELECT code, rules_json FROM jurisdiction WHERE id = 1`).
		Scan(&j.Code, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return statutory.Jurisdiction{}, statutory.ErrNoJurisdiction
	}
	if err != nil {
		return statutory.Jurisdiction{}, fmt.Errorf("failed to load jurisdiction: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &j.Rules); err != nil {
		return statutory.Jurisdiction{}, fmt.Errorf("failed to decode jurisdiction rules: %w", err)
	}
	return j, nil
}

// =============================================================================
// AUDIT LOG (statutory.AuditLog interface)
// =============================================================================

// Append inserts every record in one transaction.
func (s *Store) Append(ctx context.Context, records []statutory.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, rec := range records {
		reliefIDs, err := json.Marshal(rec.ReliefIDs)
		if err != nil {
			return err
		}
		trace, err := json.Marshal(rec.BracketTrace)
		if err != nil {
			return err
		}
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO audit_records
			(id, employee_id, period_id, pay_date, deduction_type, schedule_id, schedule_version,
			 regulatory_source, relief_ids_json, was_overridden, taxable_base, gross_liability,
			 relief_applied, net_amount, bracket_trace_json, fingerprint, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.EmployeeID, rec.PeriodID, rec.PayDate.String(), rec.DeductionType,
			rec.ScheduleID, rec.ScheduleVersion, rec.RegulatorySource, string(reliefIDs),
			rec.WasOverridden, rec.TaxableBase.String(), rec.GrossLiability.String(),
			rec.ReliefApplied.String(), rec.NetAmount.String(), string(trace), rec.Fingerprint,
			rec.ComputedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit record %s: %w", rec.ID, err)
		}
	}
	return sqlTx.Commit()
}

// Query returns matching records in insertion order.
func (s *Store) Query(ctx context.Context, filter statutory.AuditFilter) ([]statutory.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, period_id, pay_date, deduction_type, schedule_id, schedule_version,
		       regulatory_source, relief_ids_json, was_overridden, taxable_base, gross_liability,
		       relief_applied, net_amount, bracket_trace_json, fingerprint, computed_at
		FROM audit_records WHERE 1=1`
	var args []any
	if filter.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, filter.EmployeeID)
	}
	if filter.PeriodID != "" {
		query += " AND period_id = ?"
		args = append(args, filter.PeriodID)
	}
	if filter.DeductionType != "" {
		query += " AND deduction_type = ?"
		args = append(args, filter.DeductionType)
	}
	if filter.ScheduleID != "" {
		query += " AND schedule_id = ?"
		args = append(args, filter.ScheduleID)
	}
	if filter.From != nil {
		query += " AND pay_date >= ?"
		args = append(args, filter.From.String())
	}
	if filter.To != nil {
		query += " AND pay_date <= ?"
		args = append(args, filter.To.String())
	}
	query += " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []statutory.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAuditRecord(rows *sql.Rows) (statutory.AuditRecord, error) {
	var (
		rec           statutory.AuditRecord
		payDate       string
		reliefIDs     string
		trace         string
		computedAt    string
		taxableBase   string
		gross         string
		reliefApplied string
		netAmount     string
	)
	err := rows.Scan(&rec.ID, &rec.EmployeeID, &rec.PeriodID, &payDate, &rec.DeductionType,
		&rec.ScheduleID, &rec.ScheduleVersion, &rec.RegulatorySource, &reliefIDs, &rec.WasOverridden,
		&taxableBase, &gross, &reliefApplied, &netAmount, &trace, &rec.Fingerprint, &computedAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan audit record: %w", err)
	}
	if rec.PayDate, err = statutory.ParseDate(payDate); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(reliefIDs), &rec.ReliefIDs); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(trace), &rec.BracketTrace); err != nil {
		return rec, err
	}
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
			return rec, fmt.Errorf("audit record %s: bad amount %q: %w", rec.ID, f.src, err)
		}
	}
	if rec.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
		return rec, err
	}
	return rec, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func queryStrings[T ~string](ctx context.Context, q querier, query string) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
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

func nullDate(d *statutory.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*statutory.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := statutory.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("bad decimal %q: %w", s.String, err)
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
