/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the build-time version stamp.
package version

// Version is the current version of Bragi Flows.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/bragi_flows/internal/version.Version=X.Y.Z
var Version = "0.3.1"

// UserAgent returns the HTTP User-Agent string for outbound requests.
func UserAgent() string {
	return "Bragi-Flows/" + Version
}
