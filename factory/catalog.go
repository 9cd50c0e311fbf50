/*
Package factory provides YAML/JSON to Go catalog conversion.

PURPOSE:
  Converts catalog documents into validated statutory.RateSchedule,
  statutory.Relief and statutory.Jurisdiction values, and back. Finance
  teams publish a new tax table as a file, the file is validated in full,
  and only then is it written to the store.

YAML SCHEMA:
  schedules:
    - deduction_type: PAYE
      method: progressive
      effective_from: "2023-07-01"
      regulatory_source: "Finance Act 2023, s.26"
      brackets:
        - {lower: "0", upper: "24000", rate: "0.10"}
        - {lower: "24000", upper: "32333", rate: "0.25"}
        - {lower: "32333", rate: "0.30"}
  reliefs:
    - relief_type: PERSONAL
      amount: "2400"
      effective_from: "2017-01-01"
  jurisdiction:
    code: KE
    rules:
      - {type: PAYE, base: gross_taxable, reliefs: [{type: PERSONAL}]}

  Amounts and rates are decimal strings so no value passes through a float.
  Dates are YYYY-MM-DD. An upper bound left out means unbounded.

KEY FEATURES:
  - Strict decoding: unknown fields are errors
  - Validate() loads the whole file into a scratch memory store, so
    overlaps inside the file are caught before anything is written
  - Apply() writes everything in one store transaction

USAGE:
  cat, err := factory.LoadCatalogFile("catalogs/kenya.yaml")
  if err != nil { ... }
  if err := cat.Apply(ctx, store); err != nil { ... }

SEE ALSO:
  - kenya/: Go-defined presets, exportable through NewCatalog
  - statutory/validate.go: The checks run on every entry
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
	"gopkg.in/yaml.v3"
)

// Format is a catalog document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "yaml", "yml" and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown catalog format %q", s)
	}
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// CatalogDoc is the file representation of a catalog.
type CatalogDoc struct {
	Schedules    []ScheduleDoc    `yaml:"schedules,omitempty" json:"schedules,omitempty"`
	Reliefs      []ReliefDoc      `yaml:"reliefs,omitempty" json:"reliefs,omitempty"`
	Jurisdiction *JurisdictionDoc `yaml:"jurisdiction,omitempty" json:"jurisdiction,omitempty"`
}

// ScheduleDoc represents one schedule version.
type ScheduleDoc struct {
	ID               string       `yaml:"id,omitempty" json:"id,omitempty"`
	DeductionType    string       `yaml:"deduction_type" json:"deduction_type"`
	Version          int          `yaml:"version,omitempty" json:"version,omitempty"` // 0 = next in lineage
	Method           string       `yaml:"method,omitempty" json:"method,omitempty"`
	EffectiveFrom    string       `yaml:"effective_from" json:"effective_from"`
	EffectiveTo      string       `yaml:"effective_to,omitempty" json:"effective_to,omitempty"`
	Brackets         []BracketDoc `yaml:"brackets" json:"brackets"`
	CapAmount        string       `yaml:"cap_amount,omitempty" json:"cap_amount,omitempty"`
	FloorAmount      string       `yaml:"floor_amount,omitempty" json:"floor_amount,omitempty"`
	RegulatorySource string       `yaml:"regulatory_source,omitempty" json:"regulatory_source,omitempty"`
	IsHistorical     bool         `yaml:"is_historical,omitempty" json:"is_historical,omitempty"`
}

// BracketDoc represents one bracket. Exactly one of Rate and FixedAmount.
type BracketDoc struct {
	Lower       string `yaml:"lower" json:"lower"`
	Upper       string `yaml:"upper,omitempty" json:"upper,omitempty"`
	Rate        string `yaml:"rate,omitempty" json:"rate,omitempty"`
	FixedAmount string `yaml:"fixed_amount,omitempty" json:"fixed_amount,omitempty"`
}

// ReliefDoc represents one relief version.
type ReliefDoc struct {
	ID               string `yaml:"id,omitempty" json:"id,omitempty"`
	ReliefType       string `yaml:"relief_type" json:"relief_type"`
	Amount           string `yaml:"amount" json:"amount"` // flat amount, or rate when percentage
	Percentage       bool   `yaml:"percentage,omitempty" json:"percentage,omitempty"`
	MaxAmount        string `yaml:"max_amount,omitempty" json:"max_amount,omitempty"`
	EffectiveFrom    string `yaml:"effective_from" json:"effective_from"`
	EffectiveTo      string `yaml:"effective_to,omitempty" json:"effective_to,omitempty"`
	RegulatorySource string `yaml:"regulatory_source,omitempty" json:"regulatory_source,omitempty"`
}

// JurisdictionDoc represents the ordered deduction rules.
type JurisdictionDoc struct {
	Code  string    `yaml:"code" json:"code"`
	Rules []RuleDoc `yaml:"rules" json:"rules"`
}

type RuleDoc struct {
	Type                string          `yaml:"type" json:"type"`
	Base                string          `yaml:"base" json:"base"`
	AllowableDeductions []string        `yaml:"allowable_deductions,omitempty" json:"allowable_deductions,omitempty"`
	Reliefs             []ReliefRuleDoc `yaml:"reliefs,omitempty" json:"reliefs,omitempty"`
	EffectiveFrom       string          `yaml:"effective_from,omitempty" json:"effective_from,omitempty"`
}

type ReliefRuleDoc struct {
	Type  string `yaml:"type" json:"type"`
	Basis string `yaml:"basis,omitempty" json:"basis,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed catalog document.
type Catalog struct {
	Schedules    []statutory.RateSchedule
	Reliefs      []statutory.Relief
	Jurisdiction *statutory.Jurisdiction
}

// NewCatalog wraps in-memory definitions, for export and seeding.
func NewCatalog(schedules []statutory.RateSchedule, reliefs []statutory.Relief, j *statutory.Jurisdiction) *Catalog {
	return &Catalog{Schedules: schedules, Reliefs: reliefs, Jurisdiction: j}
}

// ParseCatalog decodes and converts a document. It does not validate
// bracket or window rules; call Validate for that.
func ParseCatalog(data []byte, format Format) (*Catalog, error) {
	var doc CatalogDoc
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
	return FromDoc(doc)
}

// LoadCatalogFile reads path, picking the format from its extension.
func LoadCatalogFile(path string) (*Catalog, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := ParseCatalog(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Validate runs every write-time check against a scratch store, so a file
// that overlaps itself is rejected before touching a real store.
func (c *Catalog) Validate(ctx context.Context) error {
	if err := c.load(ctx, store.NewMemory()); err != nil {
		return err
	}
	if c.Jurisdiction != nil {
		if err := c.Jurisdiction.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply validates the catalog and then writes all of it in one
// transaction. A conflict with rows already in s writes nothing.
func (c *Catalog) Apply(ctx context.Context, s statutory.Store) error {
	if err := c.Validate(ctx); err != nil {
		return err
	}
	return statutory.WithTx(ctx, s, func(tx statutory.Store) error {
		return c.load(ctx, tx)
	})
}

// load adds schedules per lineage in date order so auto-assigned versions
// follow effective dates.
func (c *Catalog) load(ctx context.Context, s statutory.Store) error {
	schedules := append([]statutory.RateSchedule(nil), c.Schedules...)
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].DeductionType != schedules[j].DeductionType {
			return schedules[i].DeductionType < schedules[j].DeductionType
		}
		return schedules[i].EffectiveFrom.Before(schedules[j].EffectiveFrom)
	})
	for i, sched := range schedules {
		if _, err := s.AddSchedule(ctx, sched); err != nil {
			return fmt.Errorf("schedule %d (%s from %s): %w", i, sched.DeductionType, sched.EffectiveFrom, err)
		}
	}
	for i, r := range c.Reliefs {
		if _, err := s.AddRelief(ctx, r); err != nil {
			return fmt.Errorf("relief %d (%s from %s): %w", i, r.ReliefType, r.EffectiveFrom, err)
		}
	}
	return nil
}

// ExportCatalog reads every version of the given deduction types (all
// types when empty) and every relief from s.
func ExportCatalog(ctx context.Context, s statutory.Store, types []statutory.DeductionType) (*Catalog, error) {
	if len(types) == 0 {
		var err error
		if types, err = s.DeductionTypes(ctx); err != nil {
			return nil, err
		}
	}
	cat := &Catalog{}
	for _, t := range types {
		versions, err := s.Schedules(ctx, t)
		if err != nil {
			return nil, err
		}
		cat.Schedules = append(cat.Schedules, versions...)
	}
	reliefTypes, err := s.ReliefTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range reliefTypes {
		versions, err := s.Reliefs(ctx, t)
		if err != nil {
			return nil, err
		}
		cat.Reliefs = append(cat.Reliefs, versions...)
	}
	return cat, nil
}

// Marshal renders the catalog as a document.
func (c *Catalog) Marshal(format Format) ([]byte, error) {
	doc := ToDoc(c)
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
}

// =============================================================================
// CONVERSION
// =============================================================================

// FromDoc converts a document, reporting the first malformed field.
func FromDoc(doc CatalogDoc) (*Catalog, error) {
	cat := &Catalog{}
	for i, sd := range doc.Schedules {
		s, err := ParseSchedule(sd)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", i, err)
		}
		cat.Schedules = append(cat.Schedules, s)
	}
	for i, rd := range doc.Reliefs {
		r, err := ParseRelief(rd)
		if err != nil {
			return nil, fmt.Errorf("reliefs[%d]: %w", i, err)
		}
		cat.Reliefs = append(cat.Reliefs, r)
	}
	if doc.Jurisdiction != nil {
		j, err := parseJurisdiction(*doc.Jurisdiction)
		if err != nil {
			return nil, fmt.Errorf("jurisdiction: %w", err)
		}
		cat.Jurisdiction = &j
	}
	return cat, nil
}

// ToDoc converts a catalog to its document form.
func ToDoc(c *Catalog) CatalogDoc {
	var doc CatalogDoc
	for _, s := range c.Schedules {
		sd := ScheduleDoc{
			ID:               string(s.ID),
			DeductionType:    string(s.DeductionType),
			Version:          s.Version,
			Method:           string(s.Method),
			EffectiveFrom:    s.EffectiveFrom.String(),
			EffectiveTo:      optionalDate(s.EffectiveTo),
			CapAmount:        optionalDecimal(s.CapAmount),
			FloorAmount:      optionalDecimal(s.FloorAmount),
			RegulatorySource: s.RegulatorySource,
			IsHistorical:     s.IsHistorical,
		}
		for _, b := range s.Brackets {
			sd.Brackets = append(sd.Brackets, BracketDoc{
				Lower:       b.LowerBound.String(),
				Upper:       optionalDecimal(b.UpperBound),
				Rate:        optionalDecimal(b.Rate),
				FixedAmount: optionalDecimal(b.FixedAmount),
			})
		}
		doc.Schedules = append(doc.Schedules, sd)
	}
	for _, r := range c.Reliefs {
		doc.Reliefs = append(doc.Reliefs, ReliefDoc{
			ID:               string(r.ID),
			ReliefType:       string(r.ReliefType),
			Amount:           r.AmountOrRate.String(),
			Percentage:       r.IsPercentage,
			MaxAmount:        optionalDecimal(r.MaxAmount),
			EffectiveFrom:    r.EffectiveFrom.String(),
			EffectiveTo:      optionalDate(r.EffectiveTo),
			RegulatorySource: r.RegulatorySource,
		})
	}
	if c.Jurisdiction != nil {
		jd := &JurisdictionDoc{Code: c.Jurisdiction.Code}
		for _, rule := range c.Jurisdiction.Rules {
			rd := RuleDoc{
				Type:          string(rule.Type),
				Base:          string(rule.Base),
				EffectiveFrom: rule.EffectiveFrom.String(),
			}
			for _, a := range rule.AllowableDeductions {
				rd.AllowableDeductions = append(rd.AllowableDeductions, string(a))
			}
			for _, rr := range rule.Reliefs {
				rd.Reliefs = append(rd.Reliefs, ReliefRuleDoc{Type: string(rr.Type), Basis: string(rr.Basis)})
			}
			jd.Rules = append(jd.Rules, rd)
		}
		doc.Jurisdiction = jd
	}
	return doc
}

// ParseSchedule converts one schedule document without validating it.
func ParseSchedule(sd ScheduleDoc) (statutory.RateSchedule, error) {
	s := statutory.RateSchedule{
		ID:               statutory.ScheduleID(sd.ID),
		DeductionType:    statutory.DeductionType(sd.DeductionType),
		Version:          sd.Version,
		Method:           statutory.Method(sd.Method),
		RegulatorySource: sd.RegulatorySource,
		IsHistorical:     sd.IsHistorical,
	}
	var err error
	if s.EffectiveFrom, err = parseDate("effective_from", sd.EffectiveFrom); err != nil {
		return s, err
	}
	if s.EffectiveTo, err = parseOptionalDate("effective_to", sd.EffectiveTo); err != nil {
		return s, err
	}
	if s.CapAmount, err = parseOptionalDecimal("cap_amount", sd.CapAmount); err != nil {
		return s, err
	}
	if s.FloorAmount, err = parseOptionalDecimal("floor_amount", sd.FloorAmount); err != nil {
		return s, err
	}
	for i, bd := range sd.Brackets {
		b, err := parseBracket(bd)
		if err != nil {
			return s, fmt.Errorf("brackets[%d]: %w", i, err)
		}
		s.Brackets = append(s.Brackets, b)
	}
	return s, nil
}

func parseBracket(bd BracketDoc) (statutory.Bracket, error) {
	var (
		b   statutory.Bracket
		err error
	)
	if b.LowerBound, err = parseDecimal("lower", bd.Lower); err != nil {
		return b, err
	}
	if b.UpperBound, err = parseOptionalDecimal("upper", bd.Upper); err != nil {
		return b, err
	}
	if b.Rate, err = parseOptionalDecimal("rate", bd.Rate); err != nil {
		return b, err
	}
	if b.FixedAmount, err = parseOptionalDecimal("fixed_amount", bd.FixedAmount); err != nil {
		return b, err
	}
	return b, nil
}

// ParseRelief converts one relief document without validating it.
func ParseRelief(rd ReliefDoc) (statutory.Relief, error) {
	r := statutory.Relief{
		ID:               statutory.ReliefID(rd.ID),
		ReliefType:       statutory.ReliefType(rd.ReliefType),
		IsPercentage:     rd.Percentage,
		RegulatorySource: rd.RegulatorySource,
	}
	var err error
	if r.AmountOrRate, err = parseDecimal("amount", rd.Amount); err != nil {
		return r, err
	}
	if r.MaxAmount, err = parseOptionalDecimal("max_amount", rd.MaxAmount); err != nil {
		return r, err
	}
	if r.EffectiveFrom, err = parseDate("effective_from", rd.EffectiveFrom); err != nil {
		return r, err
	}
	if r.EffectiveTo, err = parseOptionalDate("effective_to", rd.EffectiveTo); err != nil {
		return r, err
	}
	return r, nil
}

func parseJurisdiction(jd JurisdictionDoc) (statutory.Jurisdiction, error) {
	j := statutory.Jurisdiction{Code: jd.Code}
	for i, rd := range jd.Rules {
		rule := statutory.DeductionRule{
			Type: statutory.DeductionType(rd.Type),
			Base: statutory.BaseKind(rd.Base),
		}
		for _, a := range rd.AllowableDeductions {
			rule.AllowableDeductions = append(rule.AllowableDeductions, statutory.DeductionType(a))
		}
		for _, rr := range rd.Reliefs {
			rule.Reliefs = append(rule.Reliefs, statutory.ReliefRule{
				Type:  statutory.ReliefType(rr.Type),
				Basis: statutory.DeductionType(rr.Basis),
			})
		}
		if rd.EffectiveFrom != "" {
			from, err := parseDate("effective_from", rd.EffectiveFrom)
			if err != nil {
				return j, fmt.Errorf("rules[%d]: %w", i, err)
			}
			rule.EffectiveFrom = from
		}
		j.Rules = append(j.Rules, rule)
	}
	return j, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	return d, nil
}

func parseOptionalDecimal(field, s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDate(field, s string) (statutory.Date, error) {
	if s == "" {
		return statutory.Date{}, fmt.Errorf("%s is required", field)
	}
	d, err := statutory.ParseDate(s)
	if err != nil {
		return statutory.Date{}, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func parseOptionalDate(field, s string) (*statutory.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func optionalDate(d *statutory.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}
