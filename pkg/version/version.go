// Package version reports which careindex build is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version, Commit and Date are set with -ldflags "-X", for example
// -X github.com/Aman-CERP/careindex/pkg/version.Version=v1.2.0.
// Unset Commit and Date fall back to the VCS stamp of `go build`.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var vcs = sync.OnceValue(func() Info {
	var i Info
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			i.Commit = s.Value
		case "vcs.time":
			i.Date = s.Value
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
	return i
})

// Get returns the build information, ldflags first.
func Get() Info {
	i := vcs()
	i.Version = Version
	if Commit != "" {
		i.Commit, i.Modified = Commit, false
	}
	if Date != "" {
		i.Date = Date
	}
	if i.Commit == "" {
		i.Commit = "unknown"
	}
	if i.Date == "" {
		i.Date = "unknown"
	}
	i.GoVersion = runtime.Version()
	i.Platform = runtime.GOOS + "/" + runtime.GOARCH
	return i
}

// String is the one-line form printed by `careindex version`.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("careindex %s (commit: %s, built: %s, %s, %s)",
		i.Version, commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns the version alone.
func Short() string {
	return Version
}
