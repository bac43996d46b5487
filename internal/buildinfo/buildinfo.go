// Package buildinfo carries the version stamped in with -ldflags "-X".
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact identifier for log lines and the status display: the
// stamped version, else the module version from go install, else the commit.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// Long returns the version with commit and build date.
func Long() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Short(), Commit, Date)
}
