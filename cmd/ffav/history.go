// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/ffav/internal/history"
	"github.com/ManuGH/ffav/internal/persistence/sqlite"
)

var errNoHistory = errors.New("history is disabled (history.path is empty)")

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the execution history database",
	}
	cmd.AddCommand(newHistoryListCmd(a), newHistoryVerifyCmd(a))
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.historyPath()
			if err != nil {
				return err
			}
			recs, err := listHistory(cmd.Context(), path, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			return writeHistoryTable(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "maximum number of executions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newHistoryVerifyCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.historyPath()
			if err != nil {
				return err
			}
			mode := "quick"
			if full {
				mode = "full"
			}
			issues, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(cmd.ErrOrStderr(), issue)
				}
				return fmt.Errorf("%s: %d integrity issues", path, len(issues))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s check)\n", path, mode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run a full integrity_check instead of quick_check")
	return cmd
}

// historyPath returns the configured database, which must already exist.
func (a *app) historyPath() (string, error) {
	path := a.cfg.History.Path
	if path == "" {
		return "", errNoHistory
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("history database: %w", err)
	}
	return path, nil
}

func listHistory(ctx context.Context, path string, limit int) ([]history.Record, error) {
	store, err := history.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.List(ctx, limit)
}

func writeHistoryTable(w io.Writer, recs []history.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tSTARTED\tDURATION\tCOMMAND\tERROR")
	for _, r := range recs {
		took := "-"
		if r.EndedAt != nil {
			took = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.State, r.StartedAt.Local().Format(time.DateTime), took,
			truncate(strings.Join(r.Commands, " "), 60), truncate(r.Error, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
