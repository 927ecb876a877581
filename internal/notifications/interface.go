package notifications

import (
	"context"
	"time"
)

// Severity grades how urgent a message is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, info and success being 0
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func (s Severity) emoji() string {
	switch s {
	case SeveritySuccess:
		return "✅"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "🚨"
	case SeverityCritical:
		return "🛑"
	}
	return "ℹ️"
}

// Priority hints how a channel should surface a message
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Message is a structured notification handed to every channel
type Message struct {
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Severity  Severity               `json:"severity"`
	Priority  Priority               `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers messages to one channel
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
