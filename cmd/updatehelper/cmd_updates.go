/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/plugin_update_helper/internal/updates"
)

var (
	checkVersions []string
	checkDownload bool
)

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Query the registered update servers",
}

var updatesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check every registered plugin for a newer release",
	Long: `Check the plugins registered through the seed file against their update servers.

Installed versions are passed as slug=version (or plugin-file=version) pairs; plugins without one count as outdated.

Examples:
  updatehelper updates check --version my-plugin=1.2.0
  updatehelper updates check --version my-plugin=1.2.0 --download
`,
	RunE: runUpdatesCheck,
}

func init() {
	updatesCheckCmd.Flags().StringArrayVar(&checkVersions, "version", nil, "Installed version as slug=version (repeatable)")
	updatesCheckCmd.Flags().BoolVar(&checkDownload, "download", false, "Fetch the packages of available updates")
	updatesCmd.AddCommand(updatesCheckCmd)
	rootCmd.AddCommand(updatesCmd)
}

func parseVersions(pairs []string) (map[string]string, error) {
	versions := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		slug, v, ok := strings.Cut(pair, "=")
		if !ok || slug == "" || v == "" {
			return nil, fmt.Errorf("invalid --version %q, want slug=version", pair)
		}
		key := slug
		if !strings.Contains(slug, "/") {
			key = updates.PluginFile(slug)
		}
		versions[key] = v
	}
	return versions, nil
}

func runUpdatesCheck(cmd *cobra.Command, args []string) error {
	versions, err := parseVersions(checkVersions)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	transient, err := core.Checker().Check(ctx, versions)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tINSTALLED\tAVAILABLE")
	available := transient.Available()
	for _, u := range available {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Plugin, transient.Checked[u.Plugin], u.NewVersion)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(available) == 0 {
		fmt.Println("all plugins are up to date")
		return nil
	}

	if !checkDownload {
		return nil
	}
	packages, failures := core.Downloader().FetchAll(ctx, transient)
	for _, pkg := range packages {
		fmt.Printf("fetched %s %s -> %s\n", pkg.Plugin, pkg.Version, pkg.Location)
	}
	if len(failures) > 0 {
		failed := make([]string, 0, len(failures))
		for plugin, ferr := range failures {
			failed = append(failed, fmt.Sprintf("%s: %v", plugin, ferr))
		}
		sort.Strings(failed)
		return fmt.Errorf("package download failed:\n  %s", strings.Join(failed, "\n  "))
	}
	return nil
}
