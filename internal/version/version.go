/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import "fmt"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/plugin_update_helper/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, set at build time.
var Commit = "dev"

// UserAgent is sent with requests to update servers.
func UserAgent() string {
	return "Plugin-Update-Helper/" + Version
}

// String describes the build.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
