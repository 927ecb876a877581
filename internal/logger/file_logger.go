package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger represents a leveled file logger for the signal bot
type Logger struct {
	name    string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
	debug   bool
	now     func() time.Time
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelRisk    LogLevel = "RISK"
	LogLevelDebug   LogLevel = "DEBUG"
)

// DebugEnabledFromEnv reports whether SIGNAL_BOT_DEBUG is switched on
func DebugEnabledFromEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SIGNAL_BOT_DEBUG")))
	return v == "true" || v == "1" || v == "yes"
}

// NewLogger creates a file logger under dir (default "logs") that mirrors every line to stdout
func NewLogger(name, dir string, debug bool) (*Logger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		name:    name,
		logFile: file,
		logger:  log.New(io.MultiWriter(file, os.Stdout), "", 0),
		logDir:  dir,
		debug:   debug,
		now:     time.Now,
	}
	l.writeSessionHeader()
	return l, nil
}

// NewWithWriter creates a logger writing to w without a backing file
func NewWithWriter(w io.Writer, debug bool) *Logger {
	return &Logger{
		name:   "signal-bot",
		logger: log.New(w, "", 0),
		debug:  debug,
		now:    time.Now,
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return NewWithWriter(io.Discard, false)
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
SIGNAL BOT SESSION STARTED
================================================================================
Name: %s
Started: %s
================================================================================
`, l.name, l.now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if level == LogLevelDebug && !l.debug {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", l.now().Format("2006-01-02 15:04:05"), level, message)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Risk logs a risk or safety event
func (l *Logger) Risk(format string, args ...interface{}) {
	l.Log(LogLevelRisk, format, args...)
}

// LogDebugOnly logs only when debug output is enabled
func (l *Logger) LogDebugOnly(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// IsDebug reports whether debug output is enabled
func (l *Logger) IsDebug() bool {
	return l.debug
}

// LogSizingDecision logs the inputs and outcome of a position sizing decision
func (l *Logger) LogSizingDecision(symbol string, price, balance, confidence, quantity, notional, riskAmount float64, strategy string, warnings []string) {
	l.Info("SIZING %s | price=%.4f balance=%.2f confidence=%.2f | qty=%.6f notional=%.2f risk=%.2f | strategy=%s | warnings=%d",
		symbol, price, balance, confidence, quantity, notional, riskAmount, strategy, len(warnings))
	for _, w := range warnings {
		l.LogDebugOnly("SIZING %s warning: %s", symbol, w)
	}
}

// LogTradeExecution logs trade execution details
func (l *Logger) LogTradeExecution(symbol, side, orderID string, quantity, price, stopLoss, takeProfit float64, attempts int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s %s EXECUTED ====================
Order ID: %s
Quantity: %.6f
Entry: $%.4f
Stop Loss: $%.4f | Take Profit: $%.4f
Attempts: %d
=============================================================`,
		l.now().Format("2006-01-02 15:04:05"), side, symbol, orderID, quantity, price, stopLoss, takeProfit, attempts)

	l.logger.Println(tradeLog)
}

// LogRiskEvent logs a risk or safety gate outcome with its warnings
func (l *Logger) LogRiskEvent(source, symbol string, level string, allowed bool, warnings []string) {
	l.Risk("%s %s | level=%s allowed=%t | %s", source, symbol, level, allowed, strings.Join(warnings, "; "))
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s", fmt.Sprintf(context+": "+message, args...))
}

// Close writes the session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}

	l.logger.Print(fmt.Sprintf(`
================================================================================
SIGNAL BOT SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, l.now().Format("2006-01-02 15:04:05")))

	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	if l.logDir == "" {
		return ""
	}
	return filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", l.name, l.now().Format("2006-01-02")))
}
