// Package config handles relay configuration loading with environment variable substitution.
//
// Files are YAML by default; a ".toml" extension selects the TOML decoder.
// Both formats support ${VAR} syntax for environment variable interpolation,
// which is how the gateway token and bus credentials are normally injected.
package config
