// Package config provides centralized configuration management for the
// KlimaFlow runtime. Configuration is loaded once from a JSON file at process
// start, augmented with environment overrides for secrets, and remains
// immutable for the lifetime of the daemon.
package config
