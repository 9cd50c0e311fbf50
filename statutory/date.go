package statutory

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granular calendar date (pay dates, effective windows)
// =============================================================================

// DateLayout is the wire and storage format for every Date.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. Statutory rules change on day boundaries,
// so nothing finer than a day is ever compared.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day (in t's own location).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Time() time.Time { return d.t }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool { return !d.Before(o) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Ptr() *Date { return &d }

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int { return d.t.Compare(other.t) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalText keeps JSON, YAML and CBOR renderings identical: "YYYY-MM-DD".
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// WINDOW - Inclusive effective-date interval
// =============================================================================

// Window is the inclusive [From, To] validity interval of a schedule or
// relief version. A nil To means open-ended (still in force).
type Window struct {
	From Date
	To   *Date
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d Date) bool {
	if d.Before(w.From) {
		return false
	}
	if w.To != nil && d.After(*w.To) {
		return false
	}
	return true
}

// Overlaps reports whether two windows share at least one day. An open-ended
// window overlaps anything that ends on or after its start.
func (w Window) Overlaps(o Window) bool {
	if w.To != nil && w.To.Before(o.From) {
		return false
	}
	if o.To != nil && o.To.Before(w.From) {
		return false
	}
	return true
}

// Valid reports whether the window has a start and does not end before it.
func (w Window) Valid() bool {
	if w.From.IsZero() {
		return false
	}
	return w.To == nil || !w.To.Before(w.From)
}

func (w Window) String() string {
	if w.To == nil {
		return "[" + w.From.String() + ", open)"
	}
	return "[" + w.From.String() + ", " + w.To.String() + "]"
}
