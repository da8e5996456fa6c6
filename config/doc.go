// Package config loads tasknet configuration from defaults, an optional
// YAML file, and TASKNET_* environment variable overrides, in that order.
package config
