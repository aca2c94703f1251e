// Package config handles configuration loading for ciri.
//
// # Overview
//
// Configuration is loaded from TOML (or YAML) files with environment
// variable expansion. Every optional value has a default, see [Default].
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CIRI_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ciri/ciri.toml
//  3. ~/.config/ciri/ciri.toml
//
// Files ending in .yaml or .yml are decoded as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[matrix]
//	password = "${CIRI_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	[cache]
//	save_debounce = "2s"
//	shutdown_timeout = "5s"
//
// # Example
//
//	[matrix]
//	homeserver = "https://matrix.org"
//	username = "ciri"
//	password = "${CIRI_PASSWORD}"
//	recovery_key = ""
//	auto_join = true
//	display_name = ""
//
//	[gallery]
//	base_url = "https://pr0gramm.com"
//	flags = 9
//	promoted = true
//	check_alive = true
//
//	[bot]
//	command_prefix = "."
//	allowed_rooms = []
//	typing_indicator = true
//
//	[bot.aliases]
//	hase = ["hase", "awww"]
//
//	[cache]
//	backend = "json"
//	capacity = 128
//
//	[metrics]
//	enabled = false
//	addr = "127.0.0.1:9464"
//
//	[logging]
//	level = "info"
//	format = "text"
package config
