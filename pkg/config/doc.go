// Package config loads cmd/syncstorage's YAML configuration file: which
// backend to connect to and the limits and quota to enforce once
// connected. It is deliberately thin — a plain struct with a Load
// function — the same shape as manager.Config and storage.Config in the
// teacher codebase.
package config
