package reporting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/vmaliev/crypto/pkg/types"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
	symbolSheet  = "By Symbol"
)

// ExcelReporter writes trade history workbooks
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteTradesXLSX writes the trades, summary and per-symbol sheets to path
func (r *ExcelReporter) WriteTradesXLSX(trades []types.Trade, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(symbolSheet); err != nil {
		return err
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	summary := Summarize(trades)
	if err := r.writeTradesSheet(fx, trades, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, summary, styles); err != nil {
		return err
	}
	if err := r.writeSymbolSheet(fx, summary, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	thin := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - Dark blue background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thin,
	})
	if err != nil {
		return styles, err
	}

	// Percentages are stored as fractions
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thin,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: thin})
	if err != nil {
		return styles, err
	}

	styles.ProfitStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"E6FFE6"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thin,
	})
	if err != nil {
		return styles, err
	}

	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFE6E6"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thin,
	})
	if err != nil {
		return styles, err
	}

	styles.OpenStyle, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
		Border: thin,
	})
	if err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

var tradeHeaders = []string{
	"Trade ID", "Symbol", "Side", "Status", "Entry Time", "Exit Time", "Quantity",
	"Entry Price", "Exit Price", "Stop Loss", "Take Profit", "PnL", "Return %", "Fees", "Confidence", "Strategy",
}

func (r *ExcelReporter) writeTradesSheet(fx *excelize.File, trades []types.Trade, styles ExcelStyles) error {
	widths := map[string]float64{"A": 30, "B": 12, "C": 8, "D": 10, "E": 20, "F": 20, "P": 14}
	for col, w := range widths {
		fx.SetColWidth(tradesSheet, col, col, w)
	}
	fx.SetColWidth(tradesSheet, "G", "O", 13)

	if err := writeHeader(fx, tradesSheet, tradeHeaders, styles.HeaderStyle); err != nil {
		return err
	}

	for i, t := range trades {
		row := i + 2
		var exitTime, exitPrice, pnl, ret interface{} = "", "", "", ""
		if t.ExitTime != nil {
			exitTime = t.ExitTime.Format(timeLayout)
		}
		if t.ExitPrice != nil {
			exitPrice = *t.ExitPrice
		}
		if t.PnL != nil {
			pnl = *t.PnL
			if notional := t.EntryPrice * t.Quantity; notional > 0 {
				ret = *t.PnL / notional
			}
		}

		values := []interface{}{
			t.ID, t.Symbol, string(t.Side), string(t.Status),
			t.EntryTime.Format(timeLayout), exitTime, t.Quantity,
			t.EntryPrice, exitPrice, t.StopLoss, t.TakeProfit, pnl, ret, t.Fees, t.Confidence, t.Strategy,
		}

		rowStyle := styles.BaseStyle
		if t.Status == types.TradeOpen {
			rowStyle = styles.OpenStyle
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			fx.SetCellValue(tradesSheet, cell, v)

			style := rowStyle
			switch col {
			case 7, 8, 9, 10, 13:
				style = styles.CurrencyStyle
			case 11:
				style = pnlStyle(t.PnL, styles)
			case 12:
				style = styles.PercentStyle
			}
			fx.SetCellStyle(tradesSheet, cell, cell, style)
		}
	}

	return fx.SetPanes(tradesSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, s Summary, styles ExcelStyles) error {
	fx.SetColWidth(summarySheet, "A", "A", 22)
	fx.SetColWidth(summarySheet, "B", "B", 16)

	fx.SetCellValue(summarySheet, "A1", "PERFORMANCE SUMMARY")
	fx.MergeCell(summarySheet, "A1", "B1")
	fx.SetCellStyle(summarySheet, "A1", "B1", styles.SummaryStyle)

	profitFactor := interface{}(s.ProfitFactor)
	if math.IsInf(s.ProfitFactor, 1) {
		profitFactor = "∞"
	}

	rows := []struct {
		label string
		value interface{}
		style int
	}{
		{"Total Trades", s.TotalTrades, styles.BaseStyle},
		{"Open Trades", s.OpenTrades, styles.BaseStyle},
		{"Closed Trades", s.ClosedTrades, styles.BaseStyle},
		{"Winning Trades", s.WinningTrades, styles.BaseStyle},
		{"Losing Trades", s.LosingTrades, styles.BaseStyle},
		{"Win Rate", s.WinRate / 100, styles.PercentStyle},
		{"Total PnL", s.TotalPnL, signedStyle(s.TotalPnL, styles)},
		{"Total Fees", s.TotalFees, styles.CurrencyStyle},
		{"Gross Profit", s.GrossProfit, styles.CurrencyStyle},
		{"Gross Loss", s.GrossLoss, styles.CurrencyStyle},
		{"Profit Factor", profitFactor, styles.BaseStyle},
		{"Average Win", s.AverageWin, styles.CurrencyStyle},
		{"Average Loss", s.AverageLoss, styles.CurrencyStyle},
		{"Best Trade", s.BestTrade, styles.CurrencyStyle},
		{"Worst Trade", s.WorstTrade, styles.CurrencyStyle},
		{"Max Drawdown", s.MaxDrawdown, styles.CurrencyStyle},
	}
	for i, row := range rows {
		r := i + 2
		label := fmt.Sprintf("A%d", r)
		value := fmt.Sprintf("B%d", r)
		fx.SetCellValue(summarySheet, label, row.label)
		fx.SetCellStyle(summarySheet, label, label, styles.BaseStyle)
		fx.SetCellValue(summarySheet, value, row.value)
		fx.SetCellStyle(summarySheet, value, value, row.style)
	}
	return nil
}

func (r *ExcelReporter) writeSymbolSheet(fx *excelize.File, s Summary, styles ExcelStyles) error {
	fx.SetColWidth(symbolSheet, "A", "D", 14)
	if err := writeHeader(fx, symbolSheet, []string{"Symbol", "Trades", "Win Rate", "PnL"}, styles.HeaderStyle); err != nil {
		return err
	}
	for i, sym := range s.BySymbol {
		row := i + 2
		values := []interface{}{sym.Symbol, sym.Trades, sym.WinRate / 100, sym.TotalPnL}
		cellStyles := []int{styles.BaseStyle, styles.BaseStyle, styles.PercentStyle, signedStyle(sym.TotalPnL, styles)}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			fx.SetCellValue(symbolSheet, cell, v)
			fx.SetCellStyle(symbolSheet, cell, cell, cellStyles[col])
		}
	}
	return nil
}

func writeHeader(fx *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

func pnlStyle(pnl *float64, styles ExcelStyles) int {
	if pnl == nil {
		return styles.BaseStyle
	}
	return signedStyle(*pnl, styles)
}

func signedStyle(v float64, styles ExcelStyles) int {
	switch {
	case v > 0:
		return styles.ProfitStyle
	case v < 0:
		return styles.LossStyle
	default:
		return styles.CurrencyStyle
	}
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
