// Package reporting renders trade history as console tables, CSV and Excel workbooks.
package reporting

import (
	"github.com/vmaliev/crypto/pkg/types"
)

// ConsoleReporter defines interface for console output
type ConsoleReporter interface {
	PrintTrades(trades []types.Trade)
	PrintSummary(summary Summary)
	PrintRisk(metrics types.RiskMetrics, safety types.SafetyStatus)
}

// FileReporter defines interface for file output
type FileReporter interface {
	WriteTradesCSV(trades []types.Trade, path string) error
	WriteTradesXLSX(trades []types.Trade, path string) error
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle   int
	CurrencyStyle int
	PercentStyle  int
	BaseStyle     int
	ProfitStyle   int
	LossStyle     int
	OpenStyle     int
	SummaryStyle  int
}
