/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of chronograph.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/chronograph/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the git revision, also set via ldflags.
var Commit = "dev"

// String renders the version for the CLI and /healthz.
func String() string {
	return fmt.Sprintf("chronograph %s (%s, %s)", Version, Commit, runtime.Version())
}
