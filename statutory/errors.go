/*
errors.go - Error types for the statutory engine

PURPOSE:
  Sentinels for errors.Is() and structured errors that carry enough context
  for an operator to fix the catalog. Every structured error unwraps to its
  sentinel.

ERROR CATEGORIES:
  1. Configuration errors - overlapping windows, malformed brackets
  2. Resolution errors - no schedule in force, bad override
  3. Input errors - negative pay, missing pay date
  4. Setup errors - no jurisdiction configured

SEE ALSO:
  - validate.go: Produces configuration errors
  - resolver.go: Produces resolution errors
  - api/handlers.go: Maps these to HTTP status codes
*/
package statutory

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverlappingSchedule is returned when a new version's window
	// intersects an existing version of the same type.
	ErrOverlappingSchedule = errors.New("overlapping effective window")

	// ErrInvalidBracketConfiguration is returned for gaps, overlaps, unordered
	// or unbounded-in-the-middle brackets, and rate/fixed ambiguity.
	ErrInvalidBracketConfiguration = errors.New("invalid bracket configuration")

	// ErrInvalidSchedule is returned for schedule fields outside the brackets
	// (missing type, inverted window, negative cap).
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidRelief is returned for malformed reliefs.
	ErrInvalidRelief = errors.New("invalid relief")

	// ErrFormulaNotFound is returned when no schedule is in force on a pay date.
	ErrFormulaNotFound = errors.New("statutory formula not found")

	// ErrCalculationOverrideMismatch is returned when an override names a
	// schedule of another type or a type the jurisdiction does not compute.
	ErrCalculationOverrideMismatch = errors.New("calculation override mismatch")

	ErrScheduleNotFound = errors.New("schedule not found")
	ErrReliefNotFound   = errors.New("relief not found")

	// ErrVersionConflict is returned when an explicit version number is not
	// greater than every existing version of the type.
	ErrVersionConflict = errors.New("version conflict")

	// ErrScheduleClosed is returned when closing a window that already ends.
	ErrScheduleClosed = errors.New("effective window already closed")

	// ErrInvalidInput is returned for malformed calculation inputs.
	ErrInvalidInput = errors.New("invalid calculation input")

	// ErrUnknownDeduction is returned when a jurisdiction rule references a
	// deduction that is not computed before it.
	ErrUnknownDeduction = errors.New("unknown deduction")

	// ErrNoJurisdiction is returned when computing with no deduction rules
	// configured, and by a JurisdictionStore that has none saved.
	ErrNoJurisdiction = errors.New("no jurisdiction configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RecordKind names what an OverlappingScheduleError is about.
type RecordKind string

const (
	KindSchedule RecordKind = "schedule"
	KindRelief   RecordKind = "relief"
)

// OverlappingScheduleError identifies the two versions whose windows collide.
// It is raised on write, and on read if the catalog was corrupted externally.
type OverlappingScheduleError struct {
	Kind           RecordKind
	Type           string
	NewWindow      Window
	ExistingID     string
	ExistingWindow Window
}

func (e *OverlappingScheduleError) Error() string {
	return fmt.Sprintf("%s %s: window %s overlaps %s (%s)",
		e.Kind, e.Type, e.NewWindow, e.ExistingWindow, e.ExistingID)
}

func (e *OverlappingScheduleError) Unwrap() error {
	return ErrOverlappingSchedule
}

// InvalidBracketConfigurationError points at the offending bracket.
// Index is -1 when the problem is with the bracket list as a whole.
type InvalidBracketConfigurationError struct {
	DeductionType DeductionType
	ScheduleID    ScheduleID
	Index         int
	Reason        string
}

func (e *InvalidBracketConfigurationError) Error() string {
	where := string(e.DeductionType)
	if e.ScheduleID != "" {
		where += " (" + string(e.ScheduleID) + ")"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("invalid brackets for %s: bracket %d: %s", where, e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid brackets for %s: %s", where, e.Reason)
}

func (e *InvalidBracketConfigurationError) Unwrap() error {
	return ErrInvalidBracketConfiguration
}

// FormulaNotFoundError means payroll for this date cannot be computed.
// This is a hard failure: there is deliberately no fallback to the latest
// version.
type FormulaNotFoundError struct {
	DeductionType DeductionType
	PayDate       Date
	ScheduleID    ScheduleID // set when an override id did not exist
}

func (e *FormulaNotFoundError) Error() string {
	if e.ScheduleID != "" {
		return fmt.Sprintf("missing statutory formula for %s: schedule %s does not exist",
			e.DeductionType, e.ScheduleID)
	}
	return fmt.Sprintf("missing statutory formula for %s effective %s", e.DeductionType, e.PayDate)
}

func (e *FormulaNotFoundError) Unwrap() error {
	return ErrFormulaNotFound
}

// CalculationOverrideMismatchError means an override cannot apply.
type CalculationOverrideMismatchError struct {
	Requested  DeductionType
	ScheduleID ScheduleID
	Actual     DeductionType // type of the named schedule, empty if not applicable
}

func (e *CalculationOverrideMismatchError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("override for %s (schedule %s): deduction is not configured for this jurisdiction",
			e.Requested, e.ScheduleID)
	}
	return fmt.Sprintf("override for %s names schedule %s of type %s",
		e.Requested, e.ScheduleID, e.Actual)
}

func (e *CalculationOverrideMismatchError) Unwrap() error {
	return ErrCalculationOverrideMismatch
}

// InputError lists every problem found in a CalculationInput.
type InputError struct {
	Problems []string
}

func (e *InputError) Error() string {
	return "invalid calculation input: " + strings.Join(e.Problems, "; ")
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// CalculationError wraps any failure while computing one employee's
// deductions. Its message is the one shown to payroll operators.
type CalculationError struct {
	EmployeeID    string
	PayDate       Date
	DeductionType DeductionType
	Err           error
}

func (e *CalculationError) Error() string {
	var nf *FormulaNotFoundError
	if errors.As(e.Err, &nf) && nf.ScheduleID == "" {
		return fmt.Sprintf("cannot process payroll for employee %s: missing statutory formula for %s effective %s",
			e.EmployeeID, nf.DeductionType, nf.PayDate)
	}
	if e.DeductionType == "" {
		return fmt.Sprintf("cannot process payroll for employee %s: %v", e.EmployeeID, e.Err)
	}
	return fmt.Sprintf("cannot process payroll for employee %s: %s: %v", e.EmployeeID, e.DeductionType, e.Err)
}

func (e *CalculationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigurationError returns true if the catalog itself is at fault.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrOverlappingSchedule) ||
		errors.Is(err, ErrInvalidBracketConfiguration) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidRelief) ||
		errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return IsConfigurationError(err) ||
		errors.Is(err, ErrCalculationOverrideMismatch) ||
		errors.Is(err, ErrScheduleClosed) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownDeduction)
}

// IsNotFound returns true if the error indicates a missing record or formula.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrReliefNotFound) ||
		errors.Is(err, ErrFormulaNotFound)
}
