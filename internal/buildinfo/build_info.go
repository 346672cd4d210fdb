// Package buildinfo describes the build of the retectl binary.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at link time with -ldflags "-X github.com/l7mp/rete/internal/buildinfo.version=...".
var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

// BuildInfo holds all sorts of information about the build of an executable artifact.
type BuildInfo struct {
	Version    string `json:"version"`
	CommitHash string `json:"commitHash"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
}

// Get returns the build info of the running binary. Values missing from the link flags are
// filled in from the VCS stamp of the Go toolchain when available.
func Get() BuildInfo {
	i := BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && i.CommitHash == "n/a":
			i.CommitHash = s.Value
		case s.Key == "vcs.time" && i.BuildDate == "<unknown>":
			i.BuildDate = s.Value
		}
	}
	return i
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s with %s", i.Version, i.CommitHash, i.BuildDate,
		i.GoVersion)
}
