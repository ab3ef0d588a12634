// Package config loads and persists scriptdbg settings.
//
// Settings come from three sources, merged in order:
//
//  1. built-in defaults (DefaultSettings)
//  2. the user settings file, settings.toml
//  3. SCRIPTDBG_ environment variables
//
// Example settings.toml:
//
//	[debugger]
//	stopOnException = true
//	ignoreExceptions = '"lib/vendor.lua";"tests/fixtures.lua"'
//	tickInterval = 20
//	minPumpInterval = "50ms"
//	maxPumpInterval = "2s"
//	pumpFactor = 5.0
//
//	[script]
//	statementLimit = 0
//	capabilities = ["os"]
//
//	[logging]
//	level = "info"
//
//	[paths]
//	breakpoints = "/home/me/.config/scriptdbg/breakpoints.yaml"
//
// Observers subscribe to changes with Subscribe or SubscribePath. Watch
// reloads the file when it changes on disk.
package config
