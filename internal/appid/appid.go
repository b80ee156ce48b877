// Package appid holds the application identity used for config paths, env
// prefixes and help text.
package appid

import "strings"

const (
	// BinaryName is the CLI executable name.
	BinaryName = "tablewright"
	// ConfigName names the XDG config and data directories.
	ConfigName = "tablewright"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TABLEWRIGHT"
	// Vendor is used for the telemetry namespace.
	Vendor = "xwander"
	// Description is the one-line CLI summary.
	Description = "Rate-limited batch client for tabular record services"
)

// Identity is the resolved application identity.
type Identity struct {
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Vendor      string
	Description string
}

// Get returns the application identity.
func Get() Identity {
	return Identity{
		BinaryName:  BinaryName,
		ConfigName:  ConfigName,
		EnvPrefix:   EnvPrefix,
		Vendor:      Vendor,
		Description: Description,
	}
}

// EnvVar returns the prefixed environment variable for name.
func EnvVar(name string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.TrimSpace(name))
}
