package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/breaker"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/budget"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/health"
)

var adminAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show platform health, circuits and retry budget of a running service",
	Run:   runStatus,
}

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Operate on platform circuits of a running service",
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset [platform]",
	Short: "Force the platform circuit closed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postAdmin(fmt.Sprintf("/circuits/%s/reset", args[0]))
		fmt.Printf("Circuit for %s reset\n", args[0])
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable [platform]",
	Short: "Re-enable a platform disabled by the health monitor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postAdmin(fmt.Sprintf("/platforms/%s/enable", args[0]))
		fmt.Printf("Platform %s enabled\n", args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, circuitCmd, enableCmd} {
		c.PersistentFlags().StringVar(&adminAddr, "addr", "", "admin server address (default http://localhost:<server.port>)")
	}
	circuitCmd.AddCommand(circuitResetCmd)
	rootCmd.AddCommand(statusCmd, circuitCmd, enableCmd)
}

func adminURL(path string) string {
	if adminAddr == "" {
		cfg := loadConfig()
		adminAddr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	return strings.TrimRight(adminAddr, "/") + path
}

func adminRequest(method, path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, adminURL(path), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// /health answers 503 with a body when a platform is down
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func postAdmin(path string) {
	if err := adminRequest(http.MethodPost, path, nil); err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	var (
		summary  health.Summary
		circuits []breaker.Snapshot
		status   budget.Status
	)
	for path, out := range map[string]any{
		"/health/detailed": &summary,
		"/circuits":        &circuits,
		"/budget":          &status,
	} {
		if err := adminRequest(http.MethodGet, path, out); err != nil {
			slog.Error("Failed to query service", "path", path, "error", err)
			os.Exit(1)
		}
	}

	circuitByPlatform := make(map[string]breaker.Snapshot, len(circuits))
	for _, c := range circuits {
		circuitByPlatform[c.Platform] = c
	}

	fmt.Printf("Overall: %s\n\n", summary.Overall)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PLATFORM\tHEALTH\tCIRCUIT\tFAILURES\tERROR RATE\tAVG LATENCY\tLAST ERROR")
	for _, p := range summary.Platforms {
		circuit := circuitByPlatform[p.Platform]
		state := string(circuit.State)
		if state == "" {
			state = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%s\t%s\n",
			p.Platform, p.Status, state, p.ConsecutiveFailures, p.ErrorRate, p.AvgLatency, p.LastError)
	}
	_ = w.Flush()

	fmt.Printf("\nRetry budget: minute %d/%d, hour %d/%d\n",
		status.Minute.Used, status.Minute.Limit, status.Hour.Used, status.Hour.Limit)
}
