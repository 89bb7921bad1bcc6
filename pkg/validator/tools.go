package validator

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// OutputFormat names the parser used to turn tool output into a count.
type OutputFormat string

const (
	FormatRuffJSON     OutputFormat = "ruff-json"
	FormatPyrightJSON  OutputFormat = "pyright-json"
	FormatMypyText     OutputFormat = "mypy-text"
	FormatGolangCIJSON OutputFormat = "golangci-json"
	FormatLines        OutputFormat = "lines"
	FormatCount        OutputFormat = "count"
)

// ToolConfig describes how to run one diagnostic tool.
type ToolConfig struct {
	// Name identifies the tool in config and logs.
	Name string `mapstructure:"name" validate:"required"`

	// Command is the binary, looked up on PATH unless it contains a separator.
	Command string `mapstructure:"command" validate:"required"`

	// Args are passed before the file path.
	Args []string `mapstructure:"args"`

	// FixArgs are passed before the file paths when the tool is used as a fixer.
	FixArgs []string `mapstructure:"fix_args"`

	// PreviewArgs are passed before the file paths to show fixes without applying them.
	PreviewArgs []string `mapstructure:"preview_args"`

	// Extensions limits the tool to files with these suffixes. Empty means every file.
	Extensions []string `mapstructure:"extensions"`

	// Timeout bounds one invocation. Zero uses the validator default.
	Timeout time.Duration `mapstructure:"timeout"`

	// Format selects the output parser.
	Format OutputFormat `mapstructure:"format" validate:"required"`

	// IssueExitCodes are exit codes the tool uses to say "ran, found issues".
	IssueExitCodes []int `mapstructure:"issue_exit_codes"`
}

// Handles reports whether the tool applies to path.
func (c ToolConfig) Handles(path string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(c.Extensions, ext)
}

// Validate checks the tool config is usable.
func (c ToolConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("tool %s: command is required", c.Name)
	}
	if _, err := parserFor(c.Format); err != nil {
		return fmt.Errorf("tool %s: %w", c.Name, err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("tool %s: timeout must not be negative", c.Name)
	}
	return nil
}

// DefaultRuffConfig runs ruff with JSON output.
var DefaultRuffConfig = ToolConfig{
	Name:    "ruff",
	Command: "ruff",
	Args: []string{
		"check",
		"--output-format=json",
		"--exit-zero",
		"--no-cache",
	},
	FixArgs: []string{
		"check",
		"--fix",
		"--exit-zero",
		"--no-cache",
	},
	PreviewArgs: []string{
		"check",
		"--fix",
		"--diff",
		"--exit-zero",
		"--no-cache",
	},
	Extensions: []string{".py", ".pyi"},
	Timeout:    30 * time.Second,
	Format:     FormatRuffJSON,
}

// DefaultMypyConfig runs mypy; exit code 1 means type errors were found.
var DefaultMypyConfig = ToolConfig{
	Name:    "mypy",
	Command: "mypy",
	Args: []string{
		"--no-error-summary",
		"--show-column-numbers",
		"--no-color-output",
		"--hide-error-context",
	},
	Extensions:     []string{".py", ".pyi"},
	Timeout:        60 * time.Second,
	Format:         FormatMypyText,
	IssueExitCodes: []int{1},
}

// DefaultPyrightConfig runs pyright with JSON output.
var DefaultPyrightConfig = ToolConfig{
	Name:           "pyright",
	Command:        "pyright",
	Args:           []string{"--outputjson"},
	Extensions:     []string{".py", ".pyi"},
	Timeout:        60 * time.Second,
	Format:         FormatPyrightJSON,
	IssueExitCodes: []int{1},
}

// DefaultGolangCIConfig runs golangci-lint on the file's package.
var DefaultGolangCIConfig = ToolConfig{
	Name:    "golangci-lint",
	Command: "golangci-lint",
	Args: []string{
		"run",
		"--out-format=json",
		"--issues-exit-code=0",
	},
	FixArgs: []string{
		"run",
		"--fix",
		"--issues-exit-code=0",
	},
	Extensions: []string{".go"},
	Timeout:    120 * time.Second,
	Format:     FormatGolangCIJSON,
}

// Registry holds the known tool configs by name, in registration order.
type Registry struct {
	tools []ToolConfig
}

// NewRegistry creates a registry. Later configs replace earlier ones with the same name.
func NewRegistry(tools ...ToolConfig) *Registry {
	r := &Registry{}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in tools.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultRuffConfig, DefaultMypyConfig, DefaultPyrightConfig, DefaultGolangCIConfig)
}

// Register adds or replaces a tool config.
func (r *Registry) Register(cfg ToolConfig) {
	for i, t := range r.tools {
		if t.Name == cfg.Name {
			r.tools[i] = cfg
			return
		}
	}
	r.tools = append(r.tools, cfg)
}

// Get returns the config named name.
func (r *Registry) Get(name string) (ToolConfig, error) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, nil
		}
	}
	return ToolConfig{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Select returns the configs for names, in the given order.
func (r *Registry) Select(names ...string) ([]ToolConfig, error) {
	out := make([]ToolConfig, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Names lists registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name)
	}
	return names
}
