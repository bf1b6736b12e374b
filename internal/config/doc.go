// Package config builds the immutable guard configuration.
//
// Configuration is assembled once at startup: defaults, then an optional
// YAML file, then environment variable overrides. Unparsable values fall
// back to their defaults rather than failing startup; only invalid bypass
// rules are fatal, and those are rejected by the bypass package at
// construction time.
package config
