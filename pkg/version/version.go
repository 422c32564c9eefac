package version

import (
	"runtime/debug"
)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Set at build time via -ldflags
var (
	GitTag    string
	GitBranch string
	GitHash   string
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Version returns the release tag, or the branch, or the module version
// embedded in the binary, or "dev"
func Version() string {
	if GitTag != "" {
		return GitTag
	}
	if GitBranch != "" {
		return GitBranch
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
