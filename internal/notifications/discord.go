package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// DiscordNotifier posts embeds to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     http.DefaultClient,
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func embedColor(s Severity) int {
	switch s {
	case SeveritySuccess:
		return 0x2ECC71
	case SeverityWarning:
		return 0xF1C40F
	case SeverityError:
		return 0xE74C3C
	case SeverityCritical:
		return 0x8B0000
	}
	return 0x3498DB
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *DiscordNotifier) Send(ctx context.Context, msg Message) error {
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]discordField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, discordField{Name: k, Value: fmt.Sprint(msg.Data[k]), Inline: true})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       msg.Title,
				"description": msg.Body,
				"color":       embedColor(msg.Severity),
				"fields":      fields,
				"footer": map[string]string{
					"text": fmt.Sprintf("signal-bot | %s | %s", msg.Severity, msg.Priority),
				},
				"timestamp": ts.UTC().Format(time.RFC3339),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}

	return nil
}
