/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Evaluate every stored timer once and exit",
	Long: `Run a single driver pass over the stored timers, firing the ones that are due.

Useful when the process is driven by an external cron instead of running serve:

  */5 * * * * updatehelper tick
`,
	RunE: runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	report, err := core.Driver().Tick(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
