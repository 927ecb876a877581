package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmaliev/crypto/pkg/types"
)

const namespace = "signal_bot"

// Signal outcomes recorded by RecordSignal
const (
	OutcomeInvalid        = "invalid"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeDuplicate      = "duplicate"
	OutcomeIntakeHalted   = "intake_halted"
	OutcomeNoAccount      = "no_account"
	OutcomeNoPrice        = "no_price"
	OutcomeSafetyBlocked  = "safety_blocked"
	OutcomeRiskRejected   = "risk_rejected"
	OutcomeZeroSize       = "zero_size"
	OutcomeExecuted       = "executed"
	OutcomeExecutionError = "execution_failed"
	OutcomeClosed         = "closed"
	OutcomeNothingToClose = "nothing_to_close"
)

// Metrics owns the bot's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	signalsTotal         *prometheus.CounterVec
	signalConfidence     prometheus.Histogram
	pipelineDuration     prometheus.Histogram
	tradesTotal          *prometheus.CounterVec
	tradeNotional        *prometheus.HistogramVec
	orderAttempts        prometheus.Histogram
	bracketFailures      *prometheus.CounterVec
	positionsForceClosed *prometheus.CounterVec
	currentPrice         *prometheus.GaugeVec
	riskLevel            prometheus.Gauge
	tradingEnabled       prometheus.Gauge
	circuitBreakerActive prometheus.Gauge
	emergencyStopActive  prometheus.Gauge
	dailyPnL             prometheus.Gauge
	drawdown             prometheus.Gauge
	accountBalance       prometheus.Gauge
	openPositions        prometheus.Gauge
	activeOrders         prometheus.Gauge
	errorsTotal          *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	webhookRequests      *prometheus.CounterVec
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Signals processed by outcome",
		}, []string{"symbol", "action", "outcome"}),

		signalConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "signal_confidence",
			Help:    "Distribution of validated signal confidence",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pipeline_duration_seconds",
			Help:    "Time from signal intake to decision",
			Buckets: prometheus.DefBuckets,
		}),

		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Total number of entries executed",
		}, []string{"symbol", "side"}),

		tradeNotional: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "trade_notional",
			Help:    "Distribution of entry notional values",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"symbol"}),

		orderAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_attempts",
			Help:    "Placement attempts per entry order",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		bracketFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bracket_failures_total",
			Help: "Entries whose protective orders could not be placed",
		}, []string{"symbol", "resolution"}),

		positionsForceClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_force_closed_total",
			Help: "Positions closed by the monitor or an operator",
		}, []string{"symbol", "reason"}),

		currentPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current_price",
			Help: "Last fetched price of a symbol",
		}, []string{"symbol"}),

		riskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "safety_risk_level",
			Help: "Account risk level: 0 low, 1 medium, 2 high, 3 critical",
		}),
		tradingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trading_enabled",
			Help: "1 when the safety gate allows new entries",
		}),
		circuitBreakerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_active",
			Help: "1 while the circuit breaker is tripped",
		}),
		emergencyStopActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "emergency_stop_active",
			Help: "1 while the emergency stop is latched",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_pnl",
			Help: "Realized PnL since the start of the trading day",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drawdown_percent",
			Help: "Current drawdown from peak balance",
		}),
		accountBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "account_balance",
			Help: "Last known wallet balance",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Number of open positions",
		}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_orders",
			Help: "Entry orders awaiting a terminal status",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Errors by category",
		}, []string{"category"}),

		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_failures_total",
			Help: "Failed notification deliveries by channel",
		}, []string{"channel"}),

		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_requests_total",
			Help: "Webhook requests by HTTP status",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signalsTotal, m.signalConfidence, m.pipelineDuration,
		m.tradesTotal, m.tradeNotional, m.orderAttempts, m.bracketFailures, m.positionsForceClosed,
		m.currentPrice, m.riskLevel, m.tradingEnabled, m.circuitBreakerActive, m.emergencyStopActive,
		m.dailyPnL, m.drawdown, m.accountBalance, m.openPositions, m.activeOrders,
		m.errorsTotal, m.notificationFailures, m.webhookRequests,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSignal counts one signal and how it ended
func (m *Metrics) RecordSignal(symbol string, action types.Action, outcome string) {
	m.signalsTotal.WithLabelValues(symbol, string(action), outcome).Inc()
}

// ObserveConfidence records a validated signal's confidence
func (m *Metrics) ObserveConfidence(confidence float64) {
	m.signalConfidence.Observe(confidence)
}

// ObservePipeline records how long a signal took to process
func (m *Metrics) ObservePipeline(d time.Duration) {
	m.pipelineDuration.Observe(d.Seconds())
}

// RecordTrade records an executed entry
func (m *Metrics) RecordTrade(symbol string, side types.PositionSide, notional float64, attempts int) {
	m.tradesTotal.WithLabelValues(symbol, string(side)).Inc()
	m.tradeNotional.WithLabelValues(symbol).Observe(notional)
	m.orderAttempts.Observe(float64(attempts))
}

// RecordBracketFailure counts an entry left without complete protection
func (m *Metrics) RecordBracketFailure(symbol string, flattened bool) {
	resolution := "unprotected"
	if flattened {
		resolution = "flattened"
	}
	m.bracketFailures.WithLabelValues(symbol, resolution).Inc()
}

// RecordForceClose counts a position closed outside its bracket
func (m *Metrics) RecordForceClose(symbol, reason string) {
	m.positionsForceClosed.WithLabelValues(symbol, reason).Inc()
}

// UpdatePrice updates the current price metric
func (m *Metrics) UpdatePrice(symbol string, price float64) {
	m.currentPrice.WithLabelValues(symbol).Set(price)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// UpdateSafety mirrors the latest safety status
func (m *Metrics) UpdateSafety(status types.SafetyStatus) {
	m.riskLevel.Set(float64(status.RiskLevel.Rank()))
	m.tradingEnabled.Set(boolGauge(status.IsTradingEnabled))
	m.circuitBreakerActive.Set(boolGauge(status.CircuitBreakerActive))
	m.emergencyStopActive.Set(boolGauge(status.EmergencyStopActive))
}

// UpdateRiskMetrics mirrors account-level risk numbers
func (m *Metrics) UpdateRiskMetrics(rm types.RiskMetrics) {
	m.dailyPnL.Set(rm.DailyPnL)
	m.drawdown.Set(rm.Drawdown)
	m.accountBalance.Set(rm.CurrentBalance)
	m.openPositions.Set(float64(rm.OpenPositions))
}

// SetActiveOrders records the size of the active order table
func (m *Metrics) SetActiveOrders(n int) {
	m.activeOrders.Set(float64(n))
}

// RecordError records an error metric
func (m *Metrics) RecordError(category string) {
	m.errorsTotal.WithLabelValues(category).Inc()
}

// RecordNotificationFailure counts a failed delivery on channel
func (m *Metrics) RecordNotificationFailure(channel string) {
	m.notificationFailures.WithLabelValues(channel).Inc()
}

// RecordWebhook counts a webhook response status
func (m *Metrics) RecordWebhook(status int) {
	m.webhookRequests.WithLabelValues(http.StatusText(status)).Inc()
}
