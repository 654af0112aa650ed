// Package config loads, validates, and defaults the TOML configuration
// shared by the frames daemon and CLI.
package config
