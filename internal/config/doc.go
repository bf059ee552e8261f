// Package config loads runtime configuration for the hds command.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-e          run embedded (host application without directory access)
//	-d string   directory for the directfs backend
//	-b string   preferred backend: directfs or embeddeddb
//	-t int      future timestamp tolerance (seconds)
//
// # JSON schema
//
// Durations use timex.Duration, so "5m" and integer nanoseconds both work.
// Keys missing from the file keep their previous value:
//
//	{
//	  "embedded": false,
//	  "preferred_backend": "directfs",
//	  "data_dir": "/home/practice/hds",
//	  "state_db": "/home/practice/.config/osteokeeper/state.db",
//	  "database_path": "/home/practice/.config/osteokeeper/hds.db",
//	  "legacy_db": "/home/practice/.config/osteokeeper/legacy",
//	  "entities": ["patients", "invoices"],
//	  "future_tolerance": "5m",
//	  "log_level": "info"
//	}
package config
