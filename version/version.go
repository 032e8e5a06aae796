// Package version holds the autowait version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current autowait version. It's overridden at build time
// with -ldflags "-X github.com/liuxd6825/autowait/version.Version=...".
var Version = "0.4.0" //nolint:gochecknoglobals

// Full returns the version with the commit it was built from, when known.
func Full() string {
	if commit := vcsRevision(); commit != "" {
		return fmt.Sprintf("%s (commit/%s, %s, %s/%s)", Version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf("%s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Details returns the version details as a map, for JSON output.
func Details() map[string]string {
	details := map[string]string{
		"version":    "v" + Version,
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
	if commit := vcsRevision(); commit != "" {
		details["commit"] = commit
	}
	return details
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 10 {
			return s.Value[:10]
		}
	}
	return ""
}
