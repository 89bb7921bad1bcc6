// Package config loads the runner configuration.
//
// Sources, lowest precedence first: built-in defaults, a config file
// (YAML, TOML or JSON; .quality.* in the working directory unless a path is
// given), QUALITY_* environment variables. Nested keys map to environment
// names by upper-casing and replacing dots with underscores:
//
//	validator:
//	  tools: [ruff, mypy]
//	  fail_open: false     # QUALITY_VALIDATOR_FAIL_OPEN=false
//	  custom:
//	    - name: eslint
//	      command: eslint
//	      args: [--format, json]
//	      extensions: [.js, .ts]
//	      format: lines
//
// The decoded Config is checked with validator struct tags and then against
// the tool registry, so a typo in a tool name fails at load time.
package config
