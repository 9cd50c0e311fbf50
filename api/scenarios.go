/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with the Kenyan
	statutory history, so the API can be explored without writing a
	catalog first.

AVAILABLE SCENARIOS:

	kenya-history:     Every Kenyan schedule and relief since 2014
	kenya-payroll-run: kenya-history plus a recorded March 2025 payroll
	coverage-gap:      kenya-history with the health levy ending 2025-06-30
	                   and no successor, to demonstrate GET /api/coverage

HOW SCENARIOS WORK:
 1. Reset the store (clear the catalog and audit log)
 2. Seed the Kenyan presets in one transaction
 3. Install the Kenyan jurisdiction
 4. Optionally compute and record a payroll run

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "kenya-payroll-run"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	Stores without Reset (PostgreSQL) answer 409.

SEE ALSO:
  - kenya/: The presets loaded here
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/statutory-engine/kenya"
	"github.com/warp/statutory-engine/statutory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "kenya-history",
		Name:        "Kenyan Statutory History",
		Description: "PAYE, NSSF tiers, NHIF/SHIF and the housing levy from 2014 to date",
		Category:    "catalog",
	},
	{
		ID:          "kenya-payroll-run",
		Name:        "March 2025 Payroll",
		Description: "Kenyan history plus four employees computed and recorded for 2025-03-31",
		Category:    "payroll",
	},
	{
		ID:          "coverage-gap",
		Name:        "Coverage Gap",
		Description: "Health levy closed on 2025-06-30 with no successor; payroll after that date fails",
		Category:    "catalog",
	},
}

// payrollRun is the sample March 2025 payroll.
var payrollRun = []statutory.CalculationInput{
	{EmployeeID: "E001", PeriodID: "2025-03", BasicPay: statutory.Dec("100000")},
	{EmployeeID: "E002", PeriodID: "2025-03", BasicPay: statutory.Dec("50000"), TaxableAllowances: statutory.Dec("10000")},
	{EmployeeID: "E003", PeriodID: "2025-03", BasicPay: statutory.Dec("25000"), NonTaxableTotal: statutory.Dec("3000")},
	{EmployeeID: "E004", PeriodID: "2025-03", BasicPay: statutory.Dec("300000"), TaxableBenefits: statutory.Dec("20000")},
}

// resetter is implemented by stores that can be wiped for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "kenya-history":
		load = h.loadKenyaHistoryScenario
	case "kenya-payroll-run":
		load = h.loadPayrollRunScenario
	case "coverage-gap":
		load = h.loadCoverageGapScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if !h.reset(ctx, w) {
		return
	}
	if err := load(ctx); err != nil {
		writeFailure(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears the catalog, the jurisdiction and the audit log.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if !h.reset(r.Context(), w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context, w http.ResponseWriter) bool {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusConflict, "This store does not support reset", nil)
		return false
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return false
	}
	if err := h.SetJurisdiction(statutory.Jurisdiction{}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear jurisdiction", err)
		return false
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return true
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadKenyaHistoryScenario(ctx context.Context) error {
	if err := kenya.Seed(ctx, h.Store); err != nil {
		return err
	}
	return h.InstallJurisdiction(ctx, kenya.Jurisdiction())
}

func (h *Handler) loadPayrollRunScenario(ctx context.Context) error {
	if err := h.loadKenyaHistoryScenario(ctx); err != nil {
		return err
	}

	payDate := statutory.MustParseDate("2025-03-31")
	inputs := make([]statutory.CalculationInput, len(payrollRun))
	for i, in := range payrollRun {
		in.PayDate = payDate
		inputs[i] = in
	}
	all, err := h.batch().ComputeBatch(ctx, inputs)
	if err != nil {
		return err
	}

	var records []statutory.AuditRecord
	for i, results := range all {
		recs, err := h.Recorder.Records(inputs[i], results)
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}
	return h.Audit.Append(ctx, records)
}

func (h *Handler) loadCoverageGapScenario(ctx context.Context) error {
	if err := h.loadKenyaHistoryScenario(ctx); err != nil {
		return err
	}
	return h.Catalog.Close(ctx, "ke-shif-2024-10", statutory.MustParseDate("2025-06-30"))
}
