package engine

import (
	"sync"
	"time"
)

// EventType names what happened in the engine
type EventType string

const (
	EventSignal         EventType = "signal"
	EventTradeOpened    EventType = "trade_opened"
	EventTradeClosed    EventType = "trade_closed"
	EventBracketFailure EventType = "bracket_failure"
	EventForceClose     EventType = "force_close"
	EventSafety         EventType = "safety"
	EventIntakeHalted   EventType = "intake_halted"
	EventIntakeResumed  EventType = "intake_resumed"
	EventSession        EventType = "session"
)

// Event is published to operator subscribers such as the websocket stream
type Event struct {
	Type   EventType   `json:"type"`
	Time   time.Time   `json:"time"`
	Symbol string      `json:"symbol,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// Publisher fans events out to subscribers. Slow subscribers lose events
// instead of blocking the trading pipeline.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewPublisher creates a publisher whose subscriber channels hold buffer events
func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a func that closes it
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Event, p.buffer)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room
func (p *Publisher) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
