// Package version exposes build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata. Overridden at link time, e.g.
// -X github.com/Sumatoshi-tech/chunkflow/pkg/version.Version=v1.0.0.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const unset = "dev"

// Resolve returns Version, falling back to the module version recorded in
// the binary's build info when no version was linked in.
func Resolve() string {
	if Version != unset {
		return Version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return Version
	}

	return info.Main.Version
}

// String formats the metadata for the version command.
func String() string {
	return fmt.Sprintf("chunkflow %s (commit: %s, built: %s)", Resolve(), Commit, Date)
}
