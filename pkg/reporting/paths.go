package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

// DefaultReportPath returns results/<SYMBOL>/trades_<date>.<ext>; an empty symbol means all symbols
func DefaultReportPath(symbol, ext string, now time.Time) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		s = "ALL"
	}
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "xlsx"
	}
	return filepath.Join("results", s, fmt.Sprintf("trades_%s.%s", now.UTC().Format("20060102_150405"), ext))
}

// FilterTrades keeps the trades of symbol; an empty symbol keeps everything
func FilterTrades(trades []types.Trade, symbol string) []types.Trade {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return trades
	}
	out := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}
