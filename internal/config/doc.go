// Package config holds client and relay configuration: relay list parsing,
// client defaults and the YAML relay configuration file.
package config
