/*
main.go - Command-line tool for statutory catalogs

PURPOSE:
  Works with catalog files offline, without a server or a database: check a
  file before importing it, look up the version in force on a date, or
  compute one employee's deductions.

COMMANDS:
  validate <catalog>   Run every write-time check against a catalog file
  export               Print the Kenyan presets (or a catalog) as YAML or JSON
  resolve              Show the schedule version in force for a type and date
  compute              Compute one employee's deductions
  coverage             List dates where a configured deduction has no formula
  version              Print version information

  Every command except validate reads the Kenyan presets unless --catalog
  names a file.

EXAMPLES:
  statutory validate catalogs/kenya.yaml
  statutory resolve --type PAYE --date 2025-03-31
  statutory compute --date 2025-03-31 --basic 100000 --format json
  statutory compute --catalog finance-act.yaml --date 2025-07-31 --basic 80000

SEE ALSO:
  - factory/catalog.go: Catalog file format
  - cmd/server/main.go: The HTTP server
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/statutory-engine/factory"
	"github.com/warp/statutory-engine/kenya"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
)

// Build information. Populated at build-time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "statutory",
		Short: "Statutory deduction catalogs and calculations",
		Long: `statutory validates, exports and evaluates versioned statutory
deduction catalogs: PAYE, pension, health and housing levies with the
reliefs that offset them. Every result names the schedule version and the
statute it was computed from.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("catalog", "", "Catalog file (yaml or json); defaults to the Kenyan presets")

	root.AddCommand(validateCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(computeCmd())
	root.AddCommand(coverageCmd())
	root.AddCommand(versionCmd())
	return root
}

// =============================================================================
// COMMANDS
// =============================================================================

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog-file]",
		Short: "Validate a catalog file",
		Long:  "Check brackets, effective windows and the jurisdiction of a catalog file without writing anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := factory.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			if err := cat.Validate(cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ %s is valid\n", args[0])
			fmt.Fprintf(out, "Schedules: %d\n", len(cat.Schedules))
			fmt.Fprintf(out, "Reliefs: %d\n", len(cat.Reliefs))
			if cat.Jurisdiction != nil {
				fmt.Fprintf(out, "Jurisdiction: %s (%d rules)\n", cat.Jurisdiction.Code, len(cat.Jurisdiction.Rules))
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a catalog as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			format, err := factory.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			src, err := openSource(cmd)
			if err != nil {
				return err
			}
			cat, err := factory.ExportCatalog(cmd.Context(), src.store, nil)
			if err != nil {
				return err
			}
			if len(src.jurisdiction.Rules) > 0 {
				j := src.jurisdiction
				cat.Jurisdiction = &j
			}
			data, err := cat.Marshal(format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringP("format", "f", "yaml", "Output format (yaml, json)")
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the schedule in force for a deduction on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typeFlag, _ := cmd.Flags().GetString("type")
			dateFlag, _ := cmd.Flags().GetString("date")
			override, _ := cmd.Flags().GetString("override")
			outputFormat, _ := cmd.Flags().GetString("format")

			payDate, err := statutory.ParseDate(dateFlag)
			if err != nil {
				return err
			}
			src, err := openSource(cmd)
			if err != nil {
				return err
			}
			resolver := statutory.NewResolver(src.store, nil)
			sched, err := resolver.Resolve(cmd.Context(), statutory.DeductionType(typeFlag), payDate, statutory.ScheduleID(override))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				return writeJSON(out, sched)
			}
			fmt.Fprintf(out, "%s on %s\n", sched.DeductionType, payDate)
			fmt.Fprintf(out, "Schedule: %s (version %d, %s)\n", sched.ID, sched.Version, sched.EffectiveMethod())
			fmt.Fprintf(out, "In force: %s\n", sched.Window())
			fmt.Fprintf(out, "Source: %s\n", sched.RegulatorySource)
			printBrackets(out, sched)
			return nil
		},
	}
	cmd.Flags().StringP("type", "t", "", "Deduction type (required)")
	cmd.Flags().StringP("date", "d", "", "Pay date, YYYY-MM-DD (required)")
	cmd.Flags().String("override", "", "Pin a schedule ID instead of resolving by date")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func computeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute one employee's statutory deductions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := inputFromFlags(cmd)
			if err != nil {
				return err
			}
			outputFormat, _ := cmd.Flags().GetString("format")

			src, err := openSource(cmd)
			if err != nil {
				return err
			}
			if len(src.jurisdiction.Rules) == 0 {
				return fmt.Errorf("catalog has no jurisdiction to compute")
			}
			calc, err := statutory.NewCalculator(statutory.CalculatorConfig{
				Store:        src.store,
				Jurisdiction: src.jurisdiction,
			})
			if err != nil {
				return err
			}
			results, err := calc.Compute(cmd.Context(), in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch outputFormat {
			case "json":
				return writeJSON(out, map[string]any{
					"employee_id": in.EmployeeID,
					"pay_date":    in.PayDate,
					"deductions":  results.Sorted(),
					"total":       results.Total(),
				})
			case "table", "":
				printResults(out, in, results)
				return nil
			default:
				return fmt.Errorf("unknown output format %q", outputFormat)
			}
		},
	}
	cmd.Flags().String("employee", "cli", "Employee ID")
	cmd.Flags().StringP("date", "d", "", "Pay date, YYYY-MM-DD (required)")
	cmd.Flags().String("basic", "0", "Basic pay")
	cmd.Flags().String("allowances", "0", "Taxable allowances")
	cmd.Flags().String("benefits", "0", "Taxable benefits in kind")
	cmd.Flags().String("non-taxable", "0", "Non-taxable pay")
	cmd.Flags().StringToString("override", nil, "Pin schedules, TYPE=SCHEDULE_ID (repeatable)")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func coverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "List dates where a deduction has no formula in force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")
			from, err := statutory.ParseDate(fromFlag)
			if err != nil {
				return err
			}
			to, err := statutory.ParseDate(toFlag)
			if err != nil {
				return err
			}
			if to.Before(from) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}

			src, err := openSource(cmd)
			if err != nil {
				return err
			}
			report, err := statutory.CheckCoverage(cmd.Context(), src.store, src.jurisdiction, from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.OK() {
				fmt.Fprintf(out, "✅ every deduction resolves from %s to %s\n", from, to)
				return nil
			}
			for _, gap := range report.Gaps {
				fmt.Fprintf(out, "❌ %s from %s: %s\n", gap.DeductionType, gap.Date, gap.Reason)
			}
			return fmt.Errorf("%d coverage gap(s)", len(report.Gaps))
		},
	}
	cmd.Flags().String("from", "", "First pay date, YYYY-MM-DD (required)")
	cmd.Flags().String("to", "", "Last pay date, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// versionCmd prints the version information.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "statutory %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)

			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
			}
		},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// source is a catalog loaded into a scratch store.
type source struct {
	store        *store.Memory
	jurisdiction statutory.Jurisdiction
}

// openSource loads --catalog, or the Kenyan presets when it is empty.
func openSource(cmd *cobra.Command) (source, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s := store.NewMemory()

	path, _ := cmd.Flags().GetString("catalog")
	if path == "" {
		if err := kenya.Seed(ctx, s); err != nil {
			return source{}, err
		}
		return source{store: s, jurisdiction: kenya.Jurisdiction()}, nil
	}

	cat, err := factory.LoadCatalogFile(path)
	if err != nil {
		return source{}, err
	}
	if err := cat.Apply(ctx, s); err != nil {
		return source{}, fmt.Errorf("%s: %w", path, err)
	}
	src := source{store: s}
	if cat.Jurisdiction != nil {
		src.jurisdiction = *cat.Jurisdiction
	}
	return src, nil
}

func inputFromFlags(cmd *cobra.Command) (statutory.CalculationInput, error) {
	employee, _ := cmd.Flags().GetString("employee")
	dateFlag, _ := cmd.Flags().GetString("date")
	overrides, _ := cmd.Flags().GetStringToString("override")

	payDate, err := statutory.ParseDate(dateFlag)
	if err != nil {
		return statutory.CalculationInput{}, err
	}
	in := statutory.CalculationInput{
		EmployeeID: employee,
		PeriodID:   payDate.String()[:7],
		PayDate:    payDate,
	}

	amounts := []struct {
		flag string
		dst  *decimal.Decimal
	}{
		{"basic", &in.BasicPay},
		{"allowances", &in.TaxableAllowances},
		{"benefits", &in.TaxableBenefits},
		{"non-taxable", &in.NonTaxableTotal},
	}
	for _, a := range amounts {
		raw, _ := cmd.Flags().GetString(a.flag)
		v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			return in, fmt.Errorf("--%s: invalid amount %q", a.flag, raw)
		}
		*a.dst = v
	}

	if len(overrides) > 0 {
		in.Overrides = make(map[statutory.DeductionType]statutory.ScheduleID, len(overrides))
		for t, id := range overrides {
			in.Overrides[statutory.DeductionType(t)] = statutory.ScheduleID(id)
		}
	}
	return in, nil
}

func printBrackets(out io.Writer, sched statutory.RateSchedule) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOWER\tUPPER\tRATE\tFIXED")
	for _, b := range sched.Brackets {
		upper, rate, fixed := "-", "-", "-"
		if b.UpperBound != nil {
			upper = b.UpperBound.StringFixed(2)
		}
		if b.Rate != nil {
			rate = b.Rate.Mul(decimal.NewFromInt(100)).String() + "%"
		}
		if b.FixedAmount != nil {
			fixed = b.FixedAmount.StringFixed(2)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.LowerBound.StringFixed(2), upper, rate, fixed)
	}
	if sched.CapAmount != nil {
		fmt.Fprintf(w, "cap\t%s\t\t\n", sched.CapAmount.StringFixed(2))
	}
	if sched.FloorAmount != nil {
		fmt.Fprintf(w, "floor\t%s\t\t\n", sched.FloorAmount.StringFixed(2))
	}
	w.Flush()
}

func printResults(out io.Writer, in statutory.CalculationInput, results statutory.Results) {
	fmt.Fprintf(out, "Employee %s, pay date %s\n\n", in.EmployeeID, in.PayDate)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DEDUCTION\tSCHEDULE\tBASE\tGROSS\tRELIEF\tNET\t")
	for _, r := range results.Sorted() {
		schedule := string(r.ScheduleIDUsed)
		if r.WasOverridden {
			schedule += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.DeductionType, schedule,
			r.TaxableBase.StringFixed(2), r.GrossLiability.StringFixed(2),
			r.ReliefApplied.StringFixed(2), r.NetAmount.StringFixed(2))
	}
	fmt.Fprintf(w, "TOTAL\t\t\t\t\t%s\t\n", results.Total().StringFixed(2))
	w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
