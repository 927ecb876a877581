package risk

import "github.com/vmaliev/crypto/pkg/types"

// RiskManager defines the per-trade and per-position risk checks
type RiskManager interface {
	// CheckTradeRisk gates a new entry and computes its bracket levels
	CheckTradeRisk(signal types.Signal, currentPrice, accountBalance float64, openPositions []types.Position, volatility *float64) types.RiskCheckResult

	// CheckPositionRisk decides whether an open position has crossed one of its exit levels
	CheckPositionRisk(position types.Position) PositionRiskResult

	// RecordPnL adds realized profit or loss to the current day
	RecordPnL(pnl float64)

	// Metrics returns the current risk metrics snapshot
	Metrics() types.RiskMetrics
}
