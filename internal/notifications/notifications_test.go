package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() Message {
	return Message{
		Title:     "Trade executed",
		Body:      "BUY BTCUSDT 0.01 @ 50000",
		Severity:  SeveritySuccess,
		Priority:  PriorityNormal,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:      map[string]interface{}{"symbol": "BTCUSDT", "quantity": 0.01},
	}
}

func TestTelegramSend(t *testing.T) {
	var path string
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		path = r.URL.Path
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithBaseURL(srv.URL)
	require.NoError(t, n.Send(context.Background(), sampleMessage()))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", form["chat_id"][0])
	assert.Contains(t, form["text"][0], "*Trade executed*")
	assert.Contains(t, form["text"][0], "symbol: BTCUSDT")
	assert.Equal(t, "true", form["disable_notification"][0])
}

func TestTelegramStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramNotifier("bad", "1").WithBaseURL(srv.URL).Send(context.Background(), sampleMessage())
	assert.ErrorContains(t, err, "401")
}

func TestDiscordEmbed(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title  string         `json:"title"`
			Color  int            `json:"color"`
			Fields []discordField `json:"fields"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := sampleMessage()
	msg.Severity = SeverityCritical
	require.NoError(t, NewDiscordNotifier(srv.URL).Send(context.Background(), msg))

	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Trade executed", payload.Embeds[0].Title)
	assert.Equal(t, embedColor(SeverityCritical), payload.Embeds[0].Color)
	require.Len(t, payload.Embeds[0].Fields, 2)
	assert.Equal(t, "quantity", payload.Embeds[0].Fields[0].Name)
}

func TestEmailCompose(t *testing.T) {
	var addr, from string
	var to []string
	var body []byte
	n := NewEmailNotifier(EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"ops@example.com"}})
	n.sendMail = func(a string, _ smtp.Auth, f string, rcpt []string, msg []byte) error {
		addr, from, to, body = a, f, rcpt, msg
		return nil
	}

	msg := sampleMessage()
	msg.Severity = SeverityCritical
	msg.Priority = PriorityUrgent
	require.NoError(t, n.Send(context.Background(), msg))

	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Equal(t, "bot@example.com", from)
	assert.Equal(t, []string{"ops@example.com"}, to)
	assert.Contains(t, string(body), "Subject: [CRITICAL] Trade executed\r\n")
	assert.Contains(t, string(body), "X-Priority: 1\r\n")
	assert.Contains(t, string(body), "symbol: BTCUSDT")
}

func TestEmailHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	n := NewEmailNotifier(EmailConfig{Host: "h", From: "f", To: []string{"t"}})
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Send(ctx, sampleMessage()), context.DeadlineExceeded)
}

type fakeNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	sent []Message
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type recordingLogger struct {
	mu    sync.Mutex
	lines int
}

func (l *recordingLogger) Warning(string, ...interface{}) {
	l.mu.Lock()
	l.lines++
	l.mu.Unlock()
}

func TestDispatcherFanOutSwallowsFailures(t *testing.T) {
	ok := &fakeNotifier{name: "ok"}
	broken := &fakeNotifier{name: "broken", err: errors.New("boom")}
	log := &recordingLogger{}
	var failed []string
	var mu sync.Mutex

	d := NewDispatcher(log, ok, nil, broken).OnFailure(func(ch string) {
		mu.Lock()
		failed = append(failed, ch)
		mu.Unlock()
	})
	assert.Equal(t, []string{"ok", "broken"}, d.Channels())

	msg := sampleMessage()
	msg.Timestamp = time.Time{}
	msg.Priority = ""
	assert.NoError(t, d.Send(context.Background(), msg))

	require.Len(t, ok.sent, 1)
	assert.False(t, ok.sent[0].Timestamp.IsZero())
	assert.Equal(t, PriorityNormal, ok.sent[0].Priority)
	assert.Len(t, broken.sent, 1)
	assert.Equal(t, 1, log.lines)
	assert.Equal(t, []string{"broken"}, failed)
}

func TestDispatcherMinSeverity(t *testing.T) {
	ch := &fakeNotifier{name: "ch"}
	d := NewDispatcher(nil, ch).WithMinSeverity(SeverityWarning)

	require.NoError(t, d.Send(context.Background(), Message{Title: "fyi", Severity: SeverityInfo}))
	require.NoError(t, d.Send(context.Background(), Message{Title: "careful", Severity: SeverityError}))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, "careful", ch.sent[0].Title)
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	assert.NoError(t, d.Send(context.Background(), sampleMessage()))
}
