// Package version reports the pipewright build version.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit may be set at build time with
// -ldflags "-X github.com/ShayCichocki/pipewright/internal/version.Commit=<sha>".
var Commit string

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the version with the commit it was built from, when known.
func Full() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return Get()
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return Get() + " (" + commit + ")"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
