package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vmaliev/crypto/internal/engine"
	"github.com/vmaliev/crypto/pkg/reporting"
)

const requestTimeout = 15 * time.Second

// operatorClient calls the operator endpoints of a running bot
type operatorClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newOperatorClient(addr, token string) *operatorClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		if strings.HasPrefix(base, ":") {
			base = "localhost" + base
		}
		base = "http://" + base
	}
	return &operatorClient{baseURL: base, token: token, http: &http.Client{Timeout: requestTimeout}}
}

func (c *operatorClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// clientFromFlags targets --addr or the configured listen address
func clientFromFlags(flags *rootFlags, addr string) (*operatorClient, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	return newOperatorClient(addr, cfg.Server.OperatorToken), nil
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the safety, risk and position state of a running bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(flags, addr)
			if err != nil {
				return err
			}
			var st engine.Status
			if err := client.do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Bot address (default: server.addr from config)")
	return cmd
}

func printStatus(out io.Writer, st engine.Status) {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(out, "🤖 %s on %s, session %s (%d trades)\n", state, st.Exchange, st.Session.ID, st.Session.TradeCount)
	if st.IntakeHalted {
		fmt.Fprintf(out, "⛔ Signal intake halted: %s\n", st.HaltReason)
	}
	fmt.Fprintln(out)

	reporting.NewTableReporter(out).PrintRisk(st.Risk, st.Safety)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Size", "Entry", "Mark", "Unrealized PnL", "Leverage"})
	for _, p := range st.Positions {
		t.AppendRow(table.Row{
			p.Symbol, p.Side,
			fmt.Sprintf("%.4f", p.Size),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("$%.2f", p.UnrealizedPnL),
			fmt.Sprintf("%.0fx", p.Leverage),
		})
	}
	if len(st.Positions) == 0 {
		t.AppendRow(table.Row{"none", "", "", "", "", "", ""})
	}
	t.AppendFooter(table.Row{"active orders", st.ActiveOrders})
	t.Render()
}
