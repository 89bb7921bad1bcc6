package validator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// OutputParser turns the stdout of a tool into a diagnostic count.
type OutputParser func(output []byte) (int, error)

func parserFor(format OutputFormat) (OutputParser, error) {
	switch format {
	case FormatRuffJSON:
		return parseRuffJSON, nil
	case FormatPyrightJSON:
		return parsePyrightJSON, nil
	case FormatMypyText:
		return parseMypyText, nil
	case FormatGolangCIJSON:
		return parseGolangCIJSON, nil
	case FormatLines:
		return parseLines, nil
	case FormatCount:
		return parseCount, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ruff --output-format=json prints an array with one object per violation.
func parseRuffJSON(output []byte) (int, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return 0, nil
	}
	var issues []json.RawMessage
	if err := json.Unmarshal(output, &issues); err != nil {
		return 0, fmt.Errorf("ruff json: %w", err)
	}
	return len(issues), nil
}

type pyrightOutput struct {
	GeneralDiagnostics []struct {
		Severity string `json:"severity"`
	} `json:"generalDiagnostics"`
}

// pyright --outputjson; informational diagnostics are not counted.
func parsePyrightJSON(output []byte) (int, error) {
	var out pyrightOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return 0, fmt.Errorf("pyright json: %w", err)
	}
	count := 0
	for _, d := range out.GeneralDiagnostics {
		if d.Severity == "error" || d.Severity == "warning" {
			count++
		}
	}
	return count, nil
}

var mypyErrorLine = regexp.MustCompile(`^.+?:\d+(?::\d+)?: error: `)

// mypy prints "path:line[:col]: error: message" lines, notes, and either a
// "Success:" or "Found N errors" summary.
func parseMypyText(output []byte) (int, error) {
	count := 0
	unknown := ""
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case mypyErrorLine.MatchString(line):
			count++
		case strings.Contains(line, ": note: "),
			strings.HasPrefix(line, "Success:"),
			strings.HasPrefix(line, "Found "):
		default:
			if unknown == "" {
				unknown = line
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("mypy output: %w", err)
	}
	if count == 0 && unknown != "" {
		return 0, fmt.Errorf("mypy output: unexpected line %q", unknown)
	}
	return count, nil
}

type golangciOutput struct {
	Issues []json.RawMessage `json:"Issues"`
}

func parseGolangCIJSON(output []byte) (int, error) {
	// golangci-lint may append a text summary after the JSON document
	dec := json.NewDecoder(bytes.NewReader(output))
	var out golangciOutput
	if err := dec.Decode(&out); err != nil {
		return 0, fmt.Errorf("golangci-lint json: %w", err)
	}
	return len(out.Issues), nil
}

// parseLines counts non-blank lines, one diagnostic per line.
func parseLines(output []byte) (int, error) {
	count := 0
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	}
	return count, nil
}

// parseCount reads a single non-negative integer.
func parseCount(output []byte) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, fmt.Errorf("count output: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count output: negative count %d", n)
	}
	return n, nil
}
