package main

import (
	_ "embed"
	"strings"

	"camroll/cmd"
)

//go:embed VERSION
var embeddedVersion string

func init() {
	v := strings.TrimSpace(embeddedVersion)
	if v != "" && cmd.Version == "dev" {
		cmd.Version = v
	}
	// rootCmd captured Version during init; refresh it.
	cmd.ApplyVersion()
}
