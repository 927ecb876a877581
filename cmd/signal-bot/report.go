package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmaliev/crypto/pkg/reporting"
)

func newReportCmd(flags *rootFlags) *cobra.Command {
	var (
		symbol string
		limit  int
		out    string
		export bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the stored trade history",
		Long: `report reads the trade store, prints the trade history with a performance
summary and optionally exports it. The output format follows the file
extension: .xlsx writes a workbook, anything else writes CSV.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.GetTradeHistory(cmd.Context(), strings.ToUpper(symbol), limit)
			if err != nil {
				return fmt.Errorf("failed to read trade history: %w", err)
			}

			console := reporting.NewTableReporter(cmd.OutOrStdout())
			console.PrintTrades(trades)
			console.PrintSummary(reporting.Summarize(trades))

			if out == "" && export {
				out = reporting.DefaultReportPath(symbol, "xlsx", time.Now())
			}
			if out == "" {
				return nil
			}
			if err := reporting.NewCSVReporter().WriteTradesCSV(trades, out); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			abs, _ := filepath.Abs(out)
			fmt.Fprintf(cmd.OutOrStdout(), "📊 Report written to %s\n", abs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Only trades of this symbol")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Most recent trades to include (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Export to this .csv or .xlsx file")
	cmd.Flags().BoolVar(&export, "export", false, "Export to results/<SYMBOL>/ with a timestamped name")
	return cmd
}
