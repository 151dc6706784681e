// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// shortCommit is the length of a reported VCS revision.
const shortCommit = 7

// Info returns a formatted version string suitable for --version output.
func Info() string {
	commit, dirty := commitInfo(GitCommit, GitDirty == "true", readBuildSettings())
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func readBuildSettings() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	return settings
}

// commitInfo prefers the injected commit and falls back to the stamped
// vcs.revision and vcs.modified settings.
func commitInfo(injected string, injectedDirty bool, settings map[string]string) (string, bool) {
	if injected != "unknown" && injected != "" {
		return injected, injectedDirty
	}
	revision, ok := settings["vcs.revision"]
	if !ok || revision == "" {
		return injected, injectedDirty
	}
	if len(revision) > shortCommit {
		revision = revision[:shortCommit]
	}
	return revision, settings["vcs.modified"] == "true"
}
