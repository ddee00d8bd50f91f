/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
)

var deleteTimerForce bool

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Inspect and remove stored timers",
}

var timersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored timers with their next run",
	RunE:  runTimersList,
}

var timersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimersDelete,
}

func init() {
	timersDeleteCmd.Flags().BoolVarP(&deleteTimerForce, "force", "f", false, "Do not fail when the timer does not exist")
	timersCmd.AddCommand(timersListCmd)
	timersCmd.AddCommand(timersDeleteCmd)
	rootCmd.AddCommand(timersCmd)
}

func runTimersList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	records, err := core.Manager().List(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVARIANT\tSTATE\tLAST RUN\tNEXT RUN\tACTIONS")
	for _, rec := range records {
		state, next := "invalid", "-"
		if t, err := core.Manager().Registry().FromRecord(rec, now); err == nil {
			state = string(scheduler.StateOf(t, now))
			if n, ok := t.NextRun(); ok {
				next = n.UTC().Format(time.RFC3339)
			}
		}
		last := "never"
		if rec.LastRun != nil {
			last = time.Unix(*rec.LastRun, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", rec.ID, rec.Variant, state, last, next, len(rec.Actions))
	}
	return w.Flush()
}

func runTimersDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	deleted, err := core.Manager().Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted && !deleteTimerForce {
		return fmt.Errorf("timer %q not found", args[0])
	}
	fmt.Printf("timer %s deleted\n", args[0])
	return nil
}
