package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/vmaliev/crypto/pkg/types"
)

// CSVReporter writes flat trade history files
type CSVReporter struct{}

// NewCSVReporter creates a new CSV reporter
func NewCSVReporter() *CSVReporter {
	return &CSVReporter{}
}

// WriteTradesCSV writes one row per trade. A .xlsx path is delegated to the Excel writer.
func (r *CSVReporter) WriteTradesCSV(trades []types.Trade, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return NewExcelReporter().WriteTradesXLSX(trades, path)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Trade_ID", "Signal_ID", "Symbol", "Side", "Status",
		"Entry_Time", "Exit_Time", "Quantity", "Entry_Price", "Exit_Price",
		"Stop_Loss", "Take_Profit", "PnL_$", "Fees_$", "Confidence", "Strategy",
	}); err != nil {
		return err
	}

	for _, t := range trades {
		exitTime, exitPrice, pnl := "", "", ""
		if t.ExitTime != nil {
			exitTime = t.ExitTime.UTC().Format(timeLayout)
		}
		if t.ExitPrice != nil {
			exitPrice = formatFloat(*t.ExitPrice)
		}
		if t.PnL != nil {
			pnl = formatFloat(*t.PnL)
		}
		if err := w.Write([]string{
			t.ID, t.SignalID, t.Symbol, string(t.Side), string(t.Status),
			t.EntryTime.UTC().Format(timeLayout), exitTime,
			formatFloat(t.Quantity), formatFloat(t.EntryPrice), exitPrice,
			formatFloat(t.StopLoss), formatFloat(t.TakeProfit), pnl, formatFloat(t.Fees),
			formatFloat(t.Confidence), t.Strategy,
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
