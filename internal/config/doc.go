// Package config loads and validates carrus runtime settings.
//
// Settings come from a YAML file in the carrus configuration directory,
// optionally overridden by CARRUS_* environment variables (which may be
// sourced from a .env file). Validate fills defaults, so every consumer
// sees a fully resolved Config.
package config
