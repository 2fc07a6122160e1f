// Package config loads, normalizes, and validates spikeflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SPIKEFLOW_PYTHON. The Config type centralizes every knob the batch driver and
// CLI need: where recordings live, how they are filtered and sorted, which
// features are computed, and how the external toolkit bridge is launched.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors. CLI flags
// are applied on top of a loaded Config by the command layer before Validate is
// called a second time.
package config
