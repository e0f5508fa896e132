// Package config loads, validates, and normalizes the TOML configuration for
// the daemon and CLI. Defaults live in defaults.go; a documented sample is
// embedded and written by `clipcheck config init`.
package config
