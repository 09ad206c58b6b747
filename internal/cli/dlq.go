package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thirteen88/ish-automation-sub001/internal/control"
	"github.com/Thirteen88/ish-automation-sub001/internal/core/domain"
	"github.com/Thirteen88/ish-automation-sub001/internal/resilience/dlq"
)

var (
	dlqPlatform   string
	dlqCategories []string
	dlqOlderThan  time.Duration
	dlqLimit      int
	dlqJSON       bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and purge dead letters in the configured store",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, oldest first",
	Run:   runDLQList,
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count dead letters by platform and category",
	Run:   runDLQStats,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters matching the filter flags",
	Run:   runDLQPurge,
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqPurgeCmd} {
		c.Flags().StringVar(&dlqPlatform, "platform", "", "only entries of this platform")
		c.Flags().StringSliceVar(&dlqCategories, "category", nil, "only entries of these categories")
		c.Flags().DurationVar(&dlqOlderThan, "older-than", 0, "only entries that last failed before now minus this duration")
	}
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries to show (0 = all)")
	dlqListCmd.Flags().BoolVar(&dlqJSON, "json", false, "print entries as JSON")

	dlqCmd.AddCommand(dlqListCmd, dlqStatsCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqFilter() (domain.DeadLetterFilter, error) {
	f := domain.DeadLetterFilter{Platform: dlqPlatform}
	for _, c := range dlqCategories {
		cat := domain.Category(c)
		if !cat.Valid() {
			return f, fmt.Errorf("unknown category %q", c)
		}
		f.Categories = append(f.Categories, cat)
	}
	if dlqOlderThan > 0 {
		f.Before = time.Now().Add(-dlqOlderThan)
	}
	return f, nil
}

// openQueue opens the configured store behind a queue. The caller closes the backend.
func openQueue(ctx context.Context) (*dlq.Queue, *control.Backend) {
	cfg := loadConfig()
	backend, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	return dlq.New(cfg.Resilience.DLQ, backend.Stores.DeadLetters), backend
}

func runDLQList(cmd *cobra.Command, args []string) {
	filter, err := dlqFilter()
	if err != nil {
		slog.Error("Invalid filter", "error", err)
		os.Exit(1)
	}
	filter.Limit = dlqLimit

	ctx := context.Background()
	queue, backend := openQueue(ctx)
	defer func() {
		_ = backend.Close()
	}()

	entries, err := queue.List(ctx, filter)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	if dlqJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tPLATFORM\tOPERATION\tCATEGORY\tATTEMPTS\tLAST FAILED\tMESSAGE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Platform, e.Operation, e.ClassifiedError.Category, e.AttemptsMade,
			e.LastFailedAt.Format(time.RFC3339), e.ClassifiedError.Source.Message)
	}
	_ = w.Flush()
}

func runDLQStats(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	queue, backend := openQueue(ctx)
	defer func() {
		_ = backend.Close()
	}()

	stats, err := queue.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read dead letter stats", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Total: %d\n", stats.Total)
	if !stats.Oldest.IsZero() {
		fmt.Printf("Oldest: %s\n", stats.Oldest.Format(time.RFC3339))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PLATFORM\tCOUNT")
	for _, name := range sortedKeys(stats.ByPlatform) {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", name, stats.ByPlatform[name])
	}
	_, _ = fmt.Fprintln(w, "CATEGORY\tCOUNT")
	byCategory := make(map[string]int, len(stats.ByCategory))
	for c, n := range stats.ByCategory {
		byCategory[string(c)] = n
	}
	for _, name := range sortedKeys(byCategory) {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", name, byCategory[name])
	}
	_ = w.Flush()
}

func runDLQPurge(cmd *cobra.Command, args []string) {
	filter, err := dlqFilter()
	if err != nil {
		slog.Error("Invalid filter", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	queue, backend := openQueue(ctx)
	defer func() {
		_ = backend.Close()
	}()

	n, err := queue.Purge(ctx, filter)
	if err != nil {
		slog.Error("Failed to purge dead letters", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d dead letters\n", n)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
