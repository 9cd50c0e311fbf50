package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/statutory"
)

// =============================================================================
// CATALOG DTOs
// =============================================================================

// Schedule and relief bodies reuse factory.ScheduleDoc / factory.ReliefDoc,
// so the HTTP API and catalog files accept the same shape.

// EffectiveToRequest closes a schedule or repeals a relief.
type EffectiveToRequest struct {
	EffectiveTo statutory.Date `json:"effective_to"`
}

// CreatedDTO is returned by every write that introduces a version.
type CreatedDTO struct {
	ID string `json:"id"`
}

// CatalogAppliedDTO summarises a catalog import.
type CatalogAppliedDTO struct {
	Schedules    int    `json:"schedules"`
	Reliefs      int    `json:"reliefs"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// =============================================================================
// COMPUTE DTOs
// =============================================================================

// Compute and preview bodies are statutory.CalculationInput as-is.

// ComputeResponse is one employee's deductions for one pay date.
type ComputeResponse struct {
	EmployeeID     string                      `json:"employee_id"`
	PeriodID       string                      `json:"period_id,omitempty"`
	PayDate        statutory.Date              `json:"pay_date"`
	Deductions     []statutory.DeductionResult `json:"deductions"`
	Total          decimal.Decimal             `json:"total"`
	AuditRecordIDs []string                    `json:"audit_record_ids,omitempty"`
}

// Batch modes.
const (
	BatchHalt = "halt" // first failure fails the run, nothing recorded
	BatchEach = "each" // every employee reported independently
)

// BatchRequest is a payroll run.
type BatchRequest struct {
	Inputs []statutory.CalculationInput `json:"inputs"`
	Record bool                         `json:"record"`
	Mode   string                       `json:"mode,omitempty"`
}

// BatchItem is one employee within a batch. Error is set only in each mode.
type BatchItem struct {
	ComputeResponse
	Error *ErrorResponse `json:"error,omitempty"`
}

type BatchResponse struct {
	Items  []BatchItem     `json:"items"`
	Total  decimal.Decimal `json:"total"`
	Failed int             `json:"failed"`
}

// =============================================================================
// AUDIT DTOs
// =============================================================================

// ReproduceRequest asks whether a stored record still matches what the
// live catalog computes for the same input.
type ReproduceRequest struct {
	RecordID string                     `json:"record_id"`
	Input    statutory.CalculationInput `json:"input"`
}

type VerificationDTO struct {
	Record     statutory.AuditRecord `json:"record"`
	Recomputed string                `json:"recomputed_fingerprint"`
	Matches    bool                  `json:"matches"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest represents a request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
