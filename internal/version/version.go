// Package version carries build metadata set with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Revision returns GitSHA, falling back to the VCS revision the Go
// toolchain embedded when the binary was built without ldflags.
func Revision() string {
	if GitSHA != "unknown" && GitSHA != "" {
		return GitSHA
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// String renders the version line printed by the version command.
func String() string {
	return fmt.Sprintf("br2vision %s (commit %s, built %s, %s %s/%s)",
		Version, Revision(), BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
