// Package validator counts diagnostics per file by running external analysis
// tools (ruff, mypy, pyright, golangci-lint or any command with a known output
// format) and compares two counts under the ratchet rule: a file fails when its
// count goes up.
//
// Every tool invocation runs under its own timeout. A failed invocation is a
// *ToolError whose Cause is one of tool_not_found, timed_out, non_zero_exit or
// unparseable_output. Only tool_not_found may be downgraded to a zero count, and
// only when fail-open is enabled.
package validator
