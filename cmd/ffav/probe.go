// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

func newProbeCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Describe a media source with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProbe(cmd.Context(), cmd.OutOrStdout(), args[0], out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the JSON report to this file instead of stdout")
	return cmd
}

func (a *app) runProbe(ctx context.Context, stdout io.Writer, url, out string) error {
	sig, stop := interruptSignal(ctx)
	defer stop()

	res, err := a.newExecutor().Probe(context.WithoutCancel(ctx), url, sig)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode probe result: %w", err)
	}
	data = append(data, '\n')

	if out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := renameio.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
