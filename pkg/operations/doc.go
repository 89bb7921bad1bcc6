// Package operations provides the engine.Operation implementations shipped
// with the CLI: ToolFix runs a tool's fixer over the targets, and Script runs
// an operation written in Starlark.
package operations
