package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/vmaliev/crypto/pkg/types"
)

func newControlCmd(flags *rootFlags) *cobra.Command {
	var addr, reason string

	cmd := &cobra.Command{
		Use:   "control",
		Short: "Operator controls for a running bot",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "Bot address (default: server.addr from config)")
	cmd.PersistentFlags().StringVar(&reason, "reason", "operator request", "Reason recorded with the action")

	safetyCall := func(use, short, method, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := clientFromFlags(flags, addr)
				if err != nil {
					return err
				}
				var status types.SafetyStatus
				if err := client.do(cmd.Context(), method, path, map[string]string{"reason": reason}, &status); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ trading enabled: %s, circuit breaker: %s, emergency stop: %s\n",
					yesNo(status.IsTradingEnabled), activeOrClear(status.CircuitBreakerActive), activeOrClear(status.EmergencyStopActive))
				return nil
			},
		}
	}

	closeAll := &cobra.Command{
		Use:   "close-all",
		Short: "Market-close every open position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(flags, addr)
			if err != nil {
				return err
			}
			var resp struct {
				Closed int `json:"closed"`
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/positions/close-all", map[string]string{"reason": reason}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔒 closed %d position(s)\n", resp.Closed)
			return nil
		},
	}

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume signal intake after repeated failures halted it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(flags, addr)
			if err != nil {
				return err
			}
			var resp struct {
				Resumed bool `json:"resumed"`
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/intake/resume", nil, &resp); err != nil {
				return err
			}
			if resp.Resumed {
				fmt.Fprintln(cmd.OutOrStdout(), "▶️ signal intake resumed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "signal intake was not halted")
			}
			return nil
		},
	}

	cmd.AddCommand(
		safetyCall("emergency-stop", "Block all new trades until cleared", http.MethodPost, "/emergency-stop"),
		safetyCall("clear-stop", "Clear the emergency stop", http.MethodDelete, "/emergency-stop"),
		safetyCall("reset-breaker", "Reset a tripped circuit breaker", http.MethodPost, "/circuit-breaker/reset"),
		closeAll,
		resume,
	)
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "NO"
}

func activeOrClear(b bool) string {
	if b {
		return "ACTIVE"
	}
	return "clear"
}
