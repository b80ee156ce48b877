package appid

import (
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"
)

// Build identifies the binary. Values are injected through ldflags.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"git_commit"`
	Date    string `json:"build_date"`
}

var (
	buildMu sync.RWMutex
	build   = Build{Version: "dev", Commit: "unknown", Date: "unknown"}
)

// SetBuild records the build metadata. Empty fields keep their previous value.
func SetBuild(b Build) {
	buildMu.Lock()
	defer buildMu.Unlock()
	if b.Version != "" {
		build.Version = b.Version
	}
	if b.Commit != "" {
		build.Commit = b.Commit
	}
	if b.Date != "" {
		build.Date = b.Date
	}
}

// CurrentBuild returns the recorded build metadata.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return build
}

// Report is the version document shared by the CLI and the HTTP server.
type Report struct {
	Name         string       `json:"name"`
	Vendor       string       `json:"vendor,omitempty"`
	Build        Build        `json:"build"`
	Dependencies Dependencies `json:"dependencies"`
	Runtime      Runtime      `json:"runtime"`
}

// Dependencies lists the versions of the embedded foundation libraries.
type Dependencies struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
	Go       string `json:"go"`
}

// Runtime describes the running process.
type Runtime struct {
	Platform   string `json:"platform"`
	NumCPU     int    `json:"num_cpu"`
	Goroutines int    `json:"num_goroutines"`
}

// Describe assembles the version report for identity.
func Describe(identity Identity) Report {
	if identity.BinaryName == "" {
		identity.BinaryName = BinaryName
	}
	versions := crucible.GetVersion()
	return Report{
		Name:   identity.BinaryName,
		Vendor: identity.Vendor,
		Build:  CurrentBuild(),
		Dependencies: Dependencies{
			Gofulmen: versions.Gofulmen,
			Crucible: versions.Crucible,
			Go:       runtime.Version(),
		},
		Runtime: Runtime{
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:     runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
		},
	}
}
