// Package config loads tracer configuration.
//
// Sources, lowest precedence first:
//   - Default(): built-in values (30s trace timeout, 1h retention)
//   - an optional YAML or TOML file named by PERF_CONFIG_FILE
//   - environment variables (COMPONENT_ID, PERF_*, PORT, LOG_LEVEL, ...)
//
// Binaries layer pflag command-line flags over the loaded result.
package config
