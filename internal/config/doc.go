// Package config provides configuration loading, merging, and path management
// for the Codewave backend.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple
// sources in priority order:
//
//  1. Global config (~/.config/codewave/)
//  2. Project config (codewave.json/codewave.jsonc in the working directory)
//  3. CODEWAVE_CONFIG file
//  4. CODEWAVE_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// More specific sources override more general ones; environment variables
// have the highest precedence.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments) are accepted. JSONC is processed
// with tidwall/jsonc before parsing.
//
// # Variable Interpolation
//
// Configuration files support two kinds of placeholders:
//   - {env:VAR_NAME} expands to an environment variable value
//   - {file:path} expands to file contents, escaped for JSON; paths may be
//     absolute, relative to the config file, or ~/-prefixed
//
// # Tunables
//
// All behavioural knobs carry documented defaults in pkg/types: the persist
// debounce window, queue visibility timeout and long-poll duration, worker
// backend and idle timeout, orchestrator min/max workers, messages-per-worker
// ratio and poll interval, and the workspace excluded-directory patterns.
package config
