package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"vigil/core"
	"vigil/ingest"
	"vigil/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Dead-letter statuses settable from the CLI
const (
	statusDiscarded = "discarded"
	statusReplayed  = "replayed"
)

type dlqOptions struct {
	dbPath     string
	outputJSON bool
	noColor    bool
}

// NewDLQCmd creates the 'dlq' command for inspecting dead-lettered deliveries
func NewDLQCmd() *cobra.Command {
	opts := &dlqOptions{}

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead-letter queue",
		Long: `Inspect deliveries that could not be processed: malformed push envelopes,
empty payloads and entries that failed in the pipeline.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "data/vigil.db", "SQLite database path")
	cmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newDLQListCmd(opts))
	cmd.AddCommand(newDLQMarkCmd(opts, "discard", statusDiscarded, "Mark an entry as discarded"))
	cmd.AddCommand(newDLQMarkCmd(opts, "resolve", statusReplayed, "Mark an entry as replayed by hand"))

	return cmd
}

func openDLQ(path string) (*ingest.DLQ, func(), error) {
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	return ingest.NewDLQ(db.DB, logger), func() { db.Close() }, nil
}

func newDLQListCmd(opts *dlqOptions) *cobra.Command {
	var (
		page   int
		limit  int
		reason string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List dead-lettered deliveries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			dlq, closeFn, err := openDLQ(opts.dbPath)
			if err != nil {
				return err
			}
			defer closeFn()

			letters, total, err := dlq.List(ctx, page, limit, reason)
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return printJSON(out, map[string]interface{}{
					"items": letters,
					"total": total,
					"page":  page,
				})
			}
			printDeadLetters(out, letters, total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "Entries per page")
	cmd.Flags().StringVar(&reason, "reason", "", "Filter by failure reason")
	return cmd
}

func newDLQMarkCmd(opts *dlqOptions, use, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			dlq, closeFn, err := openDLQ(opts.dbPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := dlq.UpdateStatus(ctx, id, status); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Dead letter %d marked %s\n", id, status)
			return nil
		},
	}
}

func printDeadLetters(w io.Writer, letters []*ingest.DeadLetter, total int) {
	if len(letters) == 0 {
		infoColor.Fprintln(w, "No dead-lettered deliveries.")
		return
	}

	headerColor.Fprintf(w, "%-6s %-20s %-8s %-20s %-10s %s\n",
		"ID", "TIME", "CHANNEL", "REASON", "STATUS", "DETAILS")
	for _, l := range letters {
		fmt.Fprintf(w, "%-6d %-20s %-8s %-20s %-10s %s\n",
			l.ID,
			formatTime(l.Timestamp),
			l.Channel,
			l.ErrorReason,
			l.Status,
			core.Truncate(l.ErrorDetails, 60))
	}
	fmt.Fprintf(w, "\n%d of %d entries\n", len(letters), total)
}
