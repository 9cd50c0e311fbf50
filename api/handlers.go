/*
handlers.go - HTTP API handlers for the statutory deduction engine

PURPOSE:
  Exposes the formula catalog, the calculator and the audit trail via REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the statutory package.

ENDPOINTS:
  Schedules:
    GET    /api/schedules?deduction_type=   List versions (all types when empty)
    POST   /api/schedules                   Add a version
    GET    /api/schedules/{id}              Get one version
    POST   /api/schedules/{id}/close        Set effective_to
    POST   /api/schedules/supersede         Close the open version and add, atomically

  Reliefs:
    GET    /api/reliefs?relief_type=
    POST   /api/reliefs
    GET    /api/reliefs/{id}
    POST   /api/reliefs/{id}/repeal
    POST   /api/reliefs/supersede

  Calculation:
    GET    /api/resolve?deduction_type=&pay_date=&override=
    POST   /api/compute                     Compute and record
    POST   /api/compute/preview             Compute only (what-if)
    POST   /api/compute/batch               Payroll run

  Audit:
    GET    /api/audit?employee_id=&period_id=&deduction_type=&schedule_id=&from=&to=&limit=
    POST   /api/audit/reproduce             Re-check a record against the live catalog

  Catalog:
    GET    /api/catalog?format=yaml|json    Export
    POST   /api/catalog                     Import a catalog document
    GET    /api/coverage?from=&to=          Dates with no formula in force

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store / Audit: catalog and audit persistence
  - Catalog: supersede, close and repeal in one transaction
  - Recorder: turns results into audit records
  - The current Calculator, swapped when a catalog or scenario installs a
    new jurisdiction

ERROR HANDLING:
  Errors are returned as JSON with a status picked by statusFor:
  - 400: Malformed body, override mismatch, unknown deduction
  - 404: Schedule, relief or formula not found
  - 409: Overlapping window, version conflict, already closed
  - 422: Invalid brackets, schedule, relief or input
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Catalog writes change every payroll
  computed afterwards; put this behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/factory"
	"github.com/warp/statutory-engine/statutory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options wires a Handler. Audit defaults to Store when the store also
// implements statutory.AuditLog.
type Options struct {
	Store        statutory.Store
	Audit        statutory.AuditLog
	Jurisdiction statutory.Jurisdiction
	Workers      int
	Logger       *slog.Logger
	Now          func() time.Time
	MaxBodyBytes int64

	// CoverageHorizon is how far ahead GET /api/coverage looks by default.
	CoverageHorizon time.Duration
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    statutory.Store
	Audit    statutory.AuditLog
	Catalog  *statutory.Catalog
	Recorder *statutory.Recorder
	Logger   *slog.Logger

	workers         int
	now             func() time.Time
	maxBodyBytes    int64
	coverageHorizon time.Duration

	mu              sync.RWMutex
	calc            *statutory.Calculator
	currentScenario string
}

// NewHandler creates a handler computing opts.Jurisdiction.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	if opts.Audit == nil {
		log, ok := opts.Store.(statutory.AuditLog)
		if !ok {
			return nil, fmt.Errorf("api: audit log is required")
		}
		opts.Audit = log
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.CoverageHorizon <= 0 {
		opts.CoverageHorizon = 90 * 24 * time.Hour
	}

	h := &Handler{
		Store:           opts.Store,
		Audit:           opts.Audit,
		Catalog:         &statutory.Catalog{Store: opts.Store, Logger: opts.Logger},
		Recorder:        &statutory.Recorder{Log: opts.Audit, Now: opts.Now, Logger: opts.Logger},
		Logger:          opts.Logger,
		workers:         opts.Workers,
		now:             opts.Now,
		maxBodyBytes:    opts.MaxBodyBytes,
		coverageHorizon: opts.CoverageHorizon,
	}
	if err := h.SetJurisdiction(opts.Jurisdiction); err != nil {
		return nil, err
	}
	return h, nil
}

// SetJurisdiction replaces the rules used by every later computation.
func (h *Handler) SetJurisdiction(j statutory.Jurisdiction) error {
	calc, err := statutory.NewCalculator(statutory.CalculatorConfig{
		Store:        h.Store,
		Jurisdiction: j,
		Logger:       h.Logger,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.calc = calc
	h.mu.Unlock()
	if j.Code != "" {
		h.Logger.Info("jurisdiction installed", "code", j.Code, "rules", len(j.Rules))
	}
	return nil
}

// InstallJurisdiction saves j when the store keeps a jurisdiction, so a
// restart restores it, and then computes with it.
func (h *Handler) InstallJurisdiction(ctx context.Context, j statutory.Jurisdiction) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if js, ok := h.Store.(statutory.JurisdictionStore); ok {
		if err := js.SaveJurisdiction(ctx, j); err != nil {
			return err
		}
	}
	return h.SetJurisdiction(j)
}

// Calculator returns the calculator for the current jurisdiction.
func (h *Handler) Calculator() *statutory.Calculator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.calc
}

func (h *Handler) batch() *statutory.BatchCalculator {
	return &statutory.BatchCalculator{Calculator: h.Calculator(), Workers: h.workers}
}

func (h *Handler) today() statutory.Date {
	return statutory.DateOf(h.now())
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns every version of one deduction type, or of all.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types := []statutory.DeductionType{statutory.DeductionType(r.URL.Query().Get("deduction_type"))}
	if types[0] == "" {
		var err error
		if types, err = h.Store.DeductionTypes(ctx); err != nil {
			writeFailure(w, "Failed to list deduction types", err)
			return
		}
	}

	out := []statutory.RateSchedule{}
	for _, t := range types {
		versions, err := h.Store.Schedules(ctx, t)
		if err != nil {
			writeFailure(w, "Failed to list schedules", err)
			return
		}
		out = append(out, versions...)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSchedule returns one version.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Schedule(r.Context(), statutory.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CreateSchedule adds a version. The window must not touch any existing
// version of the type; use supersede to replace an open-ended one.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	s, ok := h.decodeSchedule(w, r)
	if !ok {
		return
	}
	id, err := h.Store.AddSchedule(r.Context(), s)
	if err != nil {
		writeFailure(w, "Failed to add schedule", err)
		return
	}
	h.Logger.Info("schedule added", "schedule", id, "deduction", s.DeductionType, "effective_from", s.EffectiveFrom)
	writeJSON(w, http.StatusCreated, CreatedDTO{ID: string(id)})
}

// SupersedeSchedule closes the open-ended version the day before the new
// one takes effect and adds it, in one transaction.
func (h *Handler) SupersedeSchedule(w http.ResponseWriter, r *http.Request) {
	s, ok := h.decodeSchedule(w, r)
	if !ok {
		return
	}
	id, err := h.Catalog.Supersede(r.Context(), s)
	if err != nil {
		writeFailure(w, "Failed to supersede schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedDTO{ID: string(id)})
}

// CloseSchedule ends an open-ended version.
func (h *Handler) CloseSchedule(w http.ResponseWriter, r *http.Request) {
	var req EffectiveToRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EffectiveTo.IsZero() {
		writeError(w, http.StatusBadRequest, "effective_to is required", nil)
		return
	}
	id := statutory.ScheduleID(chi.URLParam(r, "id"))
	if err := h.Catalog.Close(r.Context(), id, req.EffectiveTo); err != nil {
		writeFailure(w, "Failed to close schedule", err)
		return
	}
	s, err := h.Store.Schedule(r.Context(), id)
	if err != nil {
		writeFailure(w, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) decodeSchedule(w http.ResponseWriter, r *http.Request) (statutory.RateSchedule, bool) {
	var doc factory.ScheduleDoc
	if !h.decode(w, r, &doc) {
		return statutory.RateSchedule{}, false
	}
	s, err := factory.ParseSchedule(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid schedule", err)
		return s, false
	}
	return s, true
}

// =============================================================================
// RELIEF HANDLERS
// =============================================================================

// ListReliefs returns every version of one relief type, or of all.
func (h *Handler) ListReliefs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types := []statutory.ReliefType{statutory.ReliefType(r.URL.Query().Get("relief_type"))}
	if types[0] == "" {
		var err error
		if types, err = h.Store.ReliefTypes(ctx); err != nil {
			writeFailure(w, "Failed to list relief types", err)
			return
		}
	}

	out := []statutory.Relief{}
	for _, t := range types {
		versions, err := h.Store.Reliefs(ctx, t)
		if err != nil {
			writeFailure(w, "Failed to list reliefs", err)
			return
		}
		out = append(out, versions...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRelief(w http.ResponseWriter, r *http.Request) {
	rel, err := h.Store.Relief(r.Context(), statutory.ReliefID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, "Failed to get relief", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) CreateRelief(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.decodeRelief(w, r)
	if !ok {
		return
	}
	id, err := h.Store.AddRelief(r.Context(), rel)
	if err != nil {
		writeFailure(w, "Failed to add relief", err)
		return
	}
	h.Logger.Info("relief added", "relief", id, "type", rel.ReliefType, "effective_from", rel.EffectiveFrom)
	writeJSON(w, http.StatusCreated, CreatedDTO{ID: string(id)})
}

func (h *Handler) SupersedeRelief(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.decodeRelief(w, r)
	if !ok {
		return
	}
	id, err := h.Catalog.SupersedeRelief(r.Context(), rel)
	if err != nil {
		writeFailure(w, "Failed to supersede relief", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedDTO{ID: string(id)})
}

// RepealRelief ends an open-ended relief. Pay dates after effective_to no
// longer receive it.
func (h *Handler) RepealRelief(w http.ResponseWriter, r *http.Request) {
	var req EffectiveToRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EffectiveTo.IsZero() {
		writeError(w, http.StatusBadRequest, "effective_to is required", nil)
		return
	}
	id := statutory.ReliefID(chi.URLParam(r, "id"))
	if err := h.Catalog.Repeal(r.Context(), id, req.EffectiveTo); err != nil {
		writeFailure(w, "Failed to repeal relief", err)
		return
	}
	rel, err := h.Store.Relief(r.Context(), id)
	if err != nil {
		writeFailure(w, "Failed to get relief", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) decodeRelief(w http.ResponseWriter, r *http.Request) (statutory.Relief, bool) {
	var doc factory.ReliefDoc
	if !h.decode(w, r, &doc) {
		return statutory.Relief{}, false
	}
	rel, err := factory.ParseRelief(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid relief", err)
		return rel, false
	}
	return rel, true
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// Resolve returns the version that would be used for a deduction on a date.
// GET /api/resolve?deduction_type=PAYE&pay_date=2025-03-31
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := statutory.DeductionType(q.Get("deduction_type"))
	if t == "" {
		writeError(w, http.StatusBadRequest, "deduction_type is required", nil)
		return
	}
	payDate, err := statutory.ParseDate(q.Get("pay_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pay_date format (use YYYY-MM-DD)", err)
		return
	}
	s, err := h.Calculator().Resolver().Resolve(r.Context(), t, payDate, statutory.ScheduleID(q.Get("override")))
	if err != nil {
		writeFailure(w, "Failed to resolve schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Compute calculates one employee's deductions and records them.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	h.compute(w, r, true)
}

// Preview calculates without writing audit records, for what-if runs.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	h.compute(w, r, false)
}

func (h *Handler) compute(w http.ResponseWriter, r *http.Request, record bool) {
	var in statutory.CalculationInput
	if !h.decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	results, err := h.Calculator().Compute(ctx, in)
	if err != nil {
		writeFailure(w, "Failed to compute deductions", err)
		return
	}

	resp := toComputeResponse(in, results)
	if record {
		records, err := h.Recorder.Record(ctx, in, results)
		if err != nil {
			writeFailure(w, "Failed to record deductions", err)
			return
		}
		resp.AuditRecordIDs = recordIDs(records)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ComputeBatch runs a payroll. In halt mode (default) the first failure
// fails the run and nothing is recorded; with record set, every record of
// the run is appended in one write. In each mode every employee is
// reported on its own and successful ones are recorded.
func (h *Handler) ComputeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	switch req.Mode {
	case "", BatchHalt:
		h.computeBatchHalt(r.Context(), w, req)
	case BatchEach:
		h.computeBatchEach(r.Context(), w, req)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown batch mode %q", req.Mode), nil)
	}
}

func (h *Handler) computeBatchHalt(ctx context.Context, w http.ResponseWriter, req BatchRequest) {
	all, err := h.batch().ComputeBatch(ctx, req.Inputs)
	if err != nil {
		writeFailure(w, "Payroll run failed", err)
		return
	}

	resp := BatchResponse{Items: make([]BatchItem, len(all)), Total: decimal.Zero}
	var pending []statutory.AuditRecord
	for i, results := range all {
		item := BatchItem{ComputeResponse: toComputeResponse(req.Inputs[i], results)}
		if req.Record {
			records, err := h.Recorder.Records(req.Inputs[i], results)
			if err != nil {
				writeFailure(w, "Failed to build audit records", err)
				return
			}
			item.AuditRecordIDs = recordIDs(records)
			pending = append(pending, records...)
		}
		resp.Items[i] = item
		resp.Total = resp.Total.Add(item.Total)
	}
	if len(pending) > 0 {
		if err := h.Audit.Append(ctx, pending); err != nil {
			writeFailure(w, "Failed to record payroll run", err)
			return
		}
	}
	h.Logger.Info("payroll run computed", "employees", len(all), "records", len(pending))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) computeBatchEach(ctx context.Context, w http.ResponseWriter, req BatchRequest) {
	outcomes := h.batch().ComputeEach(ctx, req.Inputs)

	resp := BatchResponse{Items: make([]BatchItem, len(outcomes)), Total: decimal.Zero}
	for i, o := range outcomes {
		if o.Err != nil {
			_, code := statusFor(o.Err)
			resp.Items[i] = BatchItem{
				ComputeResponse: ComputeResponse{EmployeeID: o.Input.EmployeeID, PeriodID: o.Input.PeriodID, PayDate: o.Input.PayDate, Total: decimal.Zero},
				Error:           &ErrorResponse{Error: o.Err.Error(), Code: code},
			}
			resp.Failed++
			continue
		}
		item := BatchItem{ComputeResponse: toComputeResponse(o.Input, o.Results)}
		if req.Record {
			records, err := h.Recorder.Record(ctx, o.Input, o.Results)
			if err != nil {
				writeFailure(w, "Failed to record deductions", err)
				return
			}
			item.AuditRecordIDs = recordIDs(records)
		}
		resp.Items[i] = item
		resp.Total = resp.Total.Add(item.Total)
	}
	if resp.Failed > 0 {
		h.Logger.Warn("payroll preview has failures", "employees", len(outcomes), "failed", resp.Failed)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toComputeResponse(in statutory.CalculationInput, results statutory.Results) ComputeResponse {
	return ComputeResponse{
		EmployeeID: in.EmployeeID,
		PeriodID:   in.PeriodID,
		PayDate:    in.PayDate,
		Deductions: results.Sorted(),
		Total:      results.Total(),
	}
}

func recordIDs(records []statutory.AuditRecord) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit lists audit records.
// GET /api/audit?employee_id=E1&from=2025-01-01&to=2025-03-31
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := statutory.AuditFilter{
		EmployeeID:    q.Get("employee_id"),
		PeriodID:      q.Get("period_id"),
		DeductionType: statutory.DeductionType(q.Get("deduction_type")),
		ScheduleID:    statutory.ScheduleID(q.Get("schedule_id")),
	}
	for _, p := range []struct {
		name string
		dst  **statutory.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		if v := q.Get(p.name); v != "" {
			d, err := statutory.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+p.name+" format (use YYYY-MM-DD)", err)
				return
			}
			*p.dst = &d
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	records, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeFailure(w, "Failed to query audit log", err)
		return
	}
	if records == nil {
		records = []statutory.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ReproduceAudit recomputes the deduction behind a stored record from the
// live catalog and reports whether the fingerprints still match.
func (h *Handler) ReproduceAudit(w http.ResponseWriter, r *http.Request) {
	var req ReproduceRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	records, err := h.Audit.Query(ctx, statutory.AuditFilter{EmployeeID: req.Input.EmployeeID})
	if err != nil {
		writeFailure(w, "Failed to query audit log", err)
		return
	}
	var rec *statutory.AuditRecord
	for i := range records {
		if records[i].ID == req.RecordID {
			rec = &records[i]
			break
		}
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Audit record not found for this employee", nil)
		return
	}

	v, err := h.Recorder.Reproduce(ctx, h.Calculator(), req.Input, *rec)
	if err != nil {
		writeFailure(w, "Failed to reproduce deduction", err)
		return
	}
	if !v.Matches {
		h.Logger.Warn("audit record does not reproduce",
			"record", rec.ID, "employee", rec.EmployeeID, "deduction", rec.DeductionType)
	}
	writeJSON(w, http.StatusOK, VerificationDTO{Record: v.Record, Recomputed: v.Recomputed, Matches: v.Matches})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ImportCatalog validates a whole catalog document and writes it in one
// transaction. A jurisdiction in the document replaces the current one.
// The format comes from ?format=, else the Content-Type, else YAML.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid format", err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	cat, err := factory.ParseCatalog(data, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog document", err)
		return
	}
	if err := cat.Apply(r.Context(), h.Store); err != nil {
		writeFailure(w, "Failed to apply catalog", err)
		return
	}

	resp := CatalogAppliedDTO{Schedules: len(cat.Schedules), Reliefs: len(cat.Reliefs)}
	if cat.Jurisdiction != nil {
		if err := h.InstallJurisdiction(r.Context(), *cat.Jurisdiction); err != nil {
			writeFailure(w, "Failed to install jurisdiction", err)
			return
		}
		resp.Jurisdiction = cat.Jurisdiction.Code
	}
	h.Logger.Info("catalog applied", "schedules", resp.Schedules, "reliefs", resp.Reliefs, "jurisdiction", resp.Jurisdiction)
	writeJSON(w, http.StatusCreated, resp)
}

// ExportCatalog renders the whole store and the current jurisdiction as a
// catalog document that ImportCatalog accepts.
func (h *Handler) ExportCatalog(w http.ResponseWriter, r *http.Request) {
	format := factory.FormatYAML
	if v := r.URL.Query().Get("format"); v != "" {
		var err error
		if format, err = factory.ParseFormat(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid format", err)
			return
		}
	}
	cat, err := factory.ExportCatalog(r.Context(), h.Store, nil)
	if err != nil {
		writeFailure(w, "Failed to export catalog", err)
		return
	}
	if j := h.Calculator().Jurisdiction(); len(j.Rules) > 0 {
		cat.Jurisdiction = &j
	}
	data, err := cat.Marshal(format)
	if err != nil {
		writeFailure(w, "Failed to render catalog", err)
		return
	}
	if format == factory.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Coverage reports dates in [from, to] on which a configured deduction has
// no formula in force. Defaults to today through the coverage horizon.
func (h *Handler) Coverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := h.today()
	to := statutory.DateOf(from.Time().Add(h.coverageHorizon))
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = statutory.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from format (use YYYY-MM-DD)", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = statutory.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to format (use YYYY-MM-DD)", err)
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from", nil)
		return
	}

	report, err := statutory.CheckCoverage(r.Context(), h.Store, h.Calculator().Jurisdiction(), from, to)
	if err != nil {
		writeFailure(w, "Failed to check coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func requestFormat(r *http.Request) (factory.Format, error) {
	if v := r.URL.Query().Get("format"); v != "" {
		return factory.ParseFormat(v)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		return factory.FormatJSON, nil
	}
	return factory.FormatYAML, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body, rejecting unknown fields. On failure it has
// already written the 400.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure writes an engine error with the status and code it maps to.
func writeFailure(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

// statusFor maps engine errors to HTTP statuses and stable error codes.
// Order matters: a CalculationError wraps the sentinel it failed on.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, statutory.ErrOverlappingSchedule):
		return http.StatusConflict, "overlapping_schedule"
	case errors.Is(err, statutory.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, statutory.ErrScheduleClosed):
		return http.StatusConflict, "already_closed"
	case errors.Is(err, statutory.ErrInvalidBracketConfiguration):
		return http.StatusUnprocessableEntity, "invalid_bracket_configuration"
	case errors.Is(err, statutory.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity, "invalid_schedule"
	case errors.Is(err, statutory.ErrInvalidRelief):
		return http.StatusUnprocessableEntity, "invalid_relief"
	case errors.Is(err, statutory.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, statutory.ErrFormulaNotFound):
		return http.StatusNotFound, "formula_not_found"
	case errors.Is(err, statutory.ErrScheduleNotFound):
		return http.StatusNotFound, "schedule_not_found"
	case errors.Is(err, statutory.ErrReliefNotFound):
		return http.StatusNotFound, "relief_not_found"
	case errors.Is(err, statutory.ErrCalculationOverrideMismatch):
		return http.StatusBadRequest, "override_mismatch"
	case errors.Is(err, statutory.ErrUnknownDeduction):
		return http.StatusBadRequest, "unknown_deduction"
	case errors.Is(err, statutory.ErrNoJurisdiction):
		return http.StatusServiceUnavailable, "no_jurisdiction"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
