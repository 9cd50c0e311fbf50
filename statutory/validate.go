package statutory

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEDULE VALIDATION - Checked before any write
// =============================================================================

// ValidateSchedule checks a schedule in isolation: required fields, a valid
// window, and a well-formed bracket list for its method.
func ValidateSchedule(s RateSchedule) error {
	if s.DeductionType == "" {
		return fmt.Errorf("%w: deduction type is required", ErrInvalidSchedule)
	}
	if s.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: %s: effective_from is required", ErrInvalidSchedule, s.DeductionType)
	}
	if !s.Window().Valid() {
		return fmt.Errorf("%w: %s: effective_to %s is before effective_from %s",
			ErrInvalidSchedule, s.DeductionType, s.EffectiveTo, s.EffectiveFrom)
	}
	if s.Version < 0 {
		return fmt.Errorf("%w: %s: version must not be negative", ErrInvalidSchedule, s.DeductionType)
	}
	if s.CapAmount != nil && s.CapAmount.IsNegative() {
		return fmt.Errorf("%w: %s: cap_amount must not be negative", ErrInvalidSchedule, s.DeductionType)
	}
	if s.FloorAmount != nil && s.FloorAmount.IsNegative() {
		return fmt.Errorf("%w: %s: floor_amount must not be negative", ErrInvalidSchedule, s.DeductionType)
	}
	if s.CapAmount != nil && s.FloorAmount != nil && s.FloorAmount.GreaterThan(*s.CapAmount) {
		return fmt.Errorf("%w: %s: floor_amount %s exceeds cap_amount %s",
			ErrInvalidSchedule, s.DeductionType, s.FloorAmount, s.CapAmount)
	}
	return ValidateBrackets(s)
}

// ValidateBrackets enforces the bracket invariants: ascending, contiguous
// (each lower bound equals the previous upper bound), only the last bracket
// may be unbounded, and each bracket has exactly one of rate or fixed amount.
func ValidateBrackets(s RateSchedule) error {
	bad := func(index int, format string, args ...any) error {
		return &InvalidBracketConfigurationError{
			DeductionType: s.DeductionType,
			ScheduleID:    s.ID,
			Index:         index,
			Reason:        fmt.Sprintf(format, args...),
		}
	}

	method := s.EffectiveMethod()
	switch method {
	case MethodProgressive, MethodTiered, MethodBanded:
	default:
		return bad(-1, "unknown method %q", s.Method)
	}
	if len(s.Brackets) == 0 {
		return bad(-1, "at least one bracket is required")
	}

	last := len(s.Brackets) - 1
	for i, b := range s.Brackets {
		if b.LowerBound.IsNegative() {
			return bad(i, "lower bound %s is negative", b.LowerBound)
		}
		if (b.Rate == nil) == (b.FixedAmount == nil) {
			return bad(i, "exactly one of rate and fixed_amount must be set")
		}
		if b.Rate != nil && (b.Rate.IsNegative() || b.Rate.GreaterThan(decimal.NewFromInt(1))) {
			return bad(i, "rate %s must be a fraction between 0 and 1", b.Rate)
		}
		if b.FixedAmount != nil && b.FixedAmount.IsNegative() {
			return bad(i, "fixed amount %s is negative", b.FixedAmount)
		}
		if b.UpperBound == nil {
			if i != last {
				return bad(i, "only the last bracket may be unbounded")
			}
		} else if !b.UpperBound.GreaterThan(b.LowerBound) {
			return bad(i, "upper bound %s must be greater than lower bound %s", b.UpperBound, b.LowerBound)
		}
		if i > 0 {
			prev := s.Brackets[i-1]
			if !b.LowerBound.Equal(*prev.UpperBound) {
				if b.LowerBound.GreaterThan(*prev.UpperBound) {
					return bad(i, "gap between %s and %s", prev.UpperBound, b.LowerBound)
				}
				return bad(i, "overlaps previous bracket (lower %s < previous upper %s)", b.LowerBound, prev.UpperBound)
			}
		}

		switch method {
		case MethodTiered:
			if b.Rate == nil {
				return bad(i, "tiered brackets must be rate-based")
			}
			if b.UpperBound == nil {
				return bad(i, "tiered brackets must be bounded")
			}
		case MethodBanded:
			if b.FixedAmount == nil {
				return bad(i, "banded brackets must carry a fixed amount")
			}
		}
	}
	return nil
}

// CheckScheduleOverlap rejects s if its window intersects any existing
// version of the same deduction type.
func CheckScheduleOverlap(existing []RateSchedule, s RateSchedule) error {
	for _, e := range existing {
		if e.DeductionType != s.DeductionType || e.ID == s.ID {
			continue
		}
		if e.Window().Overlaps(s.Window()) {
			return &OverlappingScheduleError{
				Kind:           KindSchedule,
				Type:           string(s.DeductionType),
				NewWindow:      s.Window(),
				ExistingID:     string(e.ID),
				ExistingWindow: e.Window(),
			}
		}
	}
	return nil
}

// PrepareSchedule validates s against existing versions (of any type; other
// types are only checked for ID clashes) and fills in the ID, method and
// version. Store implementations call it inside their write lock or
// transaction.
//
// Version 0 means "next": one more than the highest existing version. An
// explicit version must exceed every existing one.
func PrepareSchedule(existing []RateSchedule, s RateSchedule) (RateSchedule, error) {
	if s.Method == "" {
		s.Method = MethodProgressive
	}
	if err := ValidateSchedule(s); err != nil {
		return RateSchedule{}, err
	}
	maxVersion := 0
	for _, e := range existing {
		if s.ID != "" && e.ID == s.ID {
			return RateSchedule{}, fmt.Errorf("%w: schedule id %s already exists", ErrVersionConflict, s.ID)
		}
		if e.DeductionType != s.DeductionType {
			continue
		}
		if e.Version > maxVersion {
			maxVersion = e.Version
		}
	}
	if s.Version == 0 {
		s.Version = maxVersion + 1
	} else if s.Version <= maxVersion {
		return RateSchedule{}, fmt.Errorf("%w: %s version %d must be greater than %d",
			ErrVersionConflict, s.DeductionType, s.Version, maxVersion)
	}
	if err := CheckScheduleOverlap(existing, s); err != nil {
		return RateSchedule{}, err
	}
	if s.ID == "" {
		s.ID = ScheduleID(NewID())
	}
	return s, nil
}

// PrepareScheduleClose returns s with its window closed at to.
func PrepareScheduleClose(s RateSchedule, to Date) (RateSchedule, error) {
	if s.EffectiveTo != nil {
		return RateSchedule{}, fmt.Errorf("%w: schedule %s ends %s", ErrScheduleClosed, s.ID, s.EffectiveTo)
	}
	if to.Before(s.EffectiveFrom) {
		return RateSchedule{}, fmt.Errorf("%w: schedule %s: effective_to %s is before effective_from %s",
			ErrInvalidSchedule, s.ID, to, s.EffectiveFrom)
	}
	s.EffectiveTo = to.Ptr()
	return s, nil
}

// =============================================================================
// RELIEF VALIDATION
// =============================================================================

// ValidateRelief checks a relief in isolation.
func ValidateRelief(r Relief) error {
	if r.ReliefType == "" {
		return fmt.Errorf("%w: relief type is required", ErrInvalidRelief)
	}
	if r.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: %s: effective_from is required", ErrInvalidRelief, r.ReliefType)
	}
	if !r.Window().Valid() {
		return fmt.Errorf("%w: %s: effective_to %s is before effective_from %s",
			ErrInvalidRelief, r.ReliefType, r.EffectiveTo, r.EffectiveFrom)
	}
	if r.AmountOrRate.IsNegative() {
		return fmt.Errorf("%w: %s: amount_or_rate must not be negative", ErrInvalidRelief, r.ReliefType)
	}
	if r.IsPercentage && r.AmountOrRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s: percentage %s must be a fraction between 0 and 1",
			ErrInvalidRelief, r.ReliefType, r.AmountOrRate)
	}
	if r.MaxAmount != nil && r.MaxAmount.IsNegative() {
		return fmt.Errorf("%w: %s: max_amount must not be negative", ErrInvalidRelief, r.ReliefType)
	}
	return nil
}

// CheckReliefOverlap rejects r if it overlaps another version of its type.
func CheckReliefOverlap(existing []Relief, r Relief) error {
	for _, e := range existing {
		if e.ReliefType != r.ReliefType || e.ID == r.ID {
			continue
		}
		if e.Window().Overlaps(r.Window()) {
			return &OverlappingScheduleError{
				Kind:           KindRelief,
				Type:           string(r.ReliefType),
				NewWindow:      r.Window(),
				ExistingID:     string(e.ID),
				ExistingWindow: e.Window(),
			}
		}
	}
	return nil
}

// PrepareRelief validates r against the existing versions of its type and
// assigns an ID if it has none.
func PrepareRelief(existing []Relief, r Relief) (Relief, error) {
	if err := ValidateRelief(r); err != nil {
		return Relief{}, err
	}
	for _, e := range existing {
		if r.ID != "" && e.ID == r.ID {
			return Relief{}, fmt.Errorf("%w: relief id %s already exists", ErrVersionConflict, r.ID)
		}
	}
	if err := CheckReliefOverlap(existing, r); err != nil {
		return Relief{}, err
	}
	if r.ID == "" {
		r.ID = ReliefID(NewID())
	}
	return r, nil
}

// PrepareReliefRepeal returns r with its window closed at to.
func PrepareReliefRepeal(r Relief, to Date) (Relief, error) {
	if r.EffectiveTo != nil {
		return Relief{}, fmt.Errorf("%w: relief %s ends %s", ErrScheduleClosed, r.ID, r.EffectiveTo)
	}
	if to.Before(r.EffectiveFrom) {
		return Relief{}, fmt.Errorf("%w: relief %s: effective_to %s is before effective_from %s",
			ErrInvalidRelief, r.ID, to, r.EffectiveFrom)
	}
	r.EffectiveTo = to.Ptr()
	return r, nil
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// Validate collects every problem with the input rather than stopping at
// the first one.
func (in CalculationInput) Validate() error {
	var problems []string
	if in.PayDate.IsZero() {
		problems = append(problems, "pay_date is required")
	}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"basic_pay", in.BasicPay},
		{"taxable_allowances", in.TaxableAllowances},
		{"taxable_benefits", in.TaxableBenefits},
		{"non_taxable_total", in.NonTaxableTotal},
	} {
		if f.value.IsNegative() {
			problems = append(problems, f.name+" must not be negative")
		}
	}
	if len(problems) > 0 {
		return &InputError{Problems: problems}
	}
	return nil
}

// NewID returns a time-ordered UUID for new catalog and audit rows.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
