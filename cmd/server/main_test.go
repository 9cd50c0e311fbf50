package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/config"
	"github.com/warp/statutory-engine/kenya"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
	"github.com/warp/statutory-engine/store/sqlite"
)

func TestLoadCatalog_RestartRestoresJurisdiction(t *testing.T) {
	// GIVEN: A server started once with -seed-kenya on a SQLite file
	// WHEN: It restarts with no seed or catalog flag
	// THEN: The Kenyan jurisdiction comes back and PAYE still computes

	path := filepath.Join(t.TempDir(), "statutory.db")
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	s, err := sqlite.New(path)
	require.NoError(t, err)
	first, err := loadCatalog(ctx, config.Config{SeedKenya: true}, s, logger)
	require.NoError(t, err)
	assert.Equal(t, "KE", first.Code)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()
	restored, err := loadCatalog(ctx, config.Config{}, s, logger)
	require.NoError(t, err)
	assert.Equal(t, kenya.Jurisdiction(), restored)

	calc, err := statutory.NewCalculator(statutory.CalculatorConfig{Store: s, Jurisdiction: restored})
	require.NoError(t, err)
	res, err := calc.Compute(ctx, statutory.CalculationInput{
		EmployeeID: "emp-1",
		BasicPay:   statutory.Dec("100000"),
		PayDate:    statutory.MustParseDate("2025-03-31"),
	})
	require.NoError(t, err)
	assert.Contains(t, res, statutory.DeductionPAYE)
}

func TestLoadCatalog_NothingSaved(t *testing.T) {
	j, err := loadCatalog(context.Background(), config.Config{}, store.NewMemory(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Empty(t, j.Rules)
}

func TestLoadCatalog_CatalogJurisdictionIsSaved(t *testing.T) {
	catalog := `
schedules:
  - deduction_type: PAYE
    effective_from: "2023-07-01"
    brackets:
      - {lower: "0", upper: "24000", rate: "0.10"}
      - {lower: "24000", rate: "0.30"}
jurisdiction:
  code: TEST
  rules:
    - type: PAYE
      base: gross_taxable
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))
	ctx := context.Background()
	m := store.NewMemory()

	j, err := loadCatalog(ctx, config.Config{CatalogPath: path}, m, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "TEST", j.Code)

	saved, err := m.LoadJurisdiction(ctx)
	require.NoError(t, err)
	assert.Equal(t, j, saved)
}
