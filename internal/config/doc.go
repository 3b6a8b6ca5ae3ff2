// Package config provides configuration loading and validation for the
// streaming transcriber. Values come from built-in defaults, then an optional
// YAML file, then TRANSCRIBER_* environment variables (optionally seeded
// from a .env file).
package config
