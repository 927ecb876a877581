package notifications

import (
	"context"
	"sync"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
)

// Logger is what the dispatcher needs to report failed deliveries
type Logger interface {
	Warning(format string, args ...interface{})
}

// Dispatcher fans a message out to every channel. Delivery failures are
// logged and counted, never returned to the caller.
type Dispatcher struct {
	channels    []Notifier
	minSeverity Severity
	timeout     time.Duration
	logger      Logger
	onFailure   func(channel string)
	now         func() time.Time
}

// NewDispatcher creates a dispatcher over channels; nil entries are skipped
func NewDispatcher(logger Logger, channels ...Notifier) *Dispatcher {
	d := &Dispatcher{
		minSeverity: SeverityInfo,
		timeout:     10 * time.Second,
		logger:      logger,
		now:         time.Now,
	}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// WithMinSeverity drops messages ranked below s
func (d *Dispatcher) WithMinSeverity(s Severity) *Dispatcher {
	d.minSeverity = s
	return d
}

// WithTimeout bounds each channel's delivery
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// OnFailure registers a callback invoked once per failed delivery
func (d *Dispatcher) OnFailure(fn func(channel string)) *Dispatcher {
	d.onFailure = fn
	return d
}

// Channels lists the configured channel names
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

func (d *Dispatcher) Name() string { return "dispatcher" }

// Send delivers msg to all channels concurrently and waits for them
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if d == nil || len(d.channels) == 0 || msg.Severity.Rank() < d.minSeverity.Rank() {
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.now()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	var wg sync.WaitGroup
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Notifier) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, msg); err != nil {
				if d.logger != nil {
					err = boterrors.NewNotificationError(ch.Name(), "Send", err)
					d.logger.Warning("Notification %q failed: %v", msg.Title, err)
				}
				if d.onFailure != nil {
					d.onFailure(ch.Name())
				}
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

var _ Notifier = (*Dispatcher)(nil)
