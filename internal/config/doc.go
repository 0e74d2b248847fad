// Package config provides the configuration system for magicline.
//
// # Architecture
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. Environment Variables   │  ← MAGICLINE_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← magicline.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The loader sub-package reads the file and environment layers into maps;
// Load merges them and converts every leaf into the typed sections of
// Config. Flags are applied by the caller on the returned struct, followed
// by Validate.
//
// # Configuration File
//
//	[interpreter]
//	mode = "execute"          # or "rewrite"
//	recover_from_panic = true
//	metrics = false
//
//	[exec]
//	shell = "/bin/sh"
//	origin = "(magicline exec)"
//	sigil = "!"
//	timeout = "30s"           # 0 disables
//	max_processes = 64
//
//	[rewrite]
//	errors_as_code = true
//
//	[logging]
//	level = "info"
//
//	[session]
//	working_dir = "~/scripts"
//	history_path = "~/.local/share/magicline/history.db"
//
//	[lua]
//	timeout = "0"
//	open_os = false
//
// # Environment Variables
//
// MAGICLINE_SECTION_KEY sets section.key, for example MAGICLINE_EXEC_TIMEOUT.
// MAGICLINE_MODE, MAGICLINE_SHELL, MAGICLINE_WORKING_DIR, and
// MAGICLINE_HISTORY_PATH are shorthands, and MAGICLINE_CONFIG names the file.
package config
