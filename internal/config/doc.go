// Package config loads runtime configuration for the mindvault shell.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string     data directory holding journal.db and settings.db
//	-e string     encryption: auto, on or off
//	-u string     user id the shell acts for
//	-l string     log level (debug, info, warn, error)
//	-b string     log backend (slog or zap)
//	-t duration   open timeout of a store file
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "2s"
// or integer nanoseconds. Absent keys keep the default:
//
//	{
//	  "data_dir": "/var/lib/mindvault",
//	  "encryption": "on",
//	  "user_id": "u1",
//	  "log_level": "info",
//	  "log_backend": "zap",
//	  "open_timeout": "2s",
//	  "blocked_retries": 3,
//	  "blocked_retry_delay": "200ms",
//	  "delete_retry_delay": "500ms"
//	}
package config
