package main

import (
	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/cmd"
)

// Set through ldflags:
// go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-05-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	appid.SetBuild(appid.Build{Version: version, Commit: commit, Date: buildDate})

	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(cmd.ExitCodeFor(err), "Command failed", err)
	}
}
