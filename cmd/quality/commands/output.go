package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func format() string {
	if jsonOutput {
		return formatJSON
	}
	return outputFormat
}

// render writes v as JSON or YAML, or calls text for the human format.
func render(w io.Writer, v interface{}, text func(io.Writer)) error {
	switch format() {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so YAML keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		if text != nil {
			text(w)
		}
		return nil
	}
}

type errorEnvelope struct {
	Error  interface{}       `json:"error"`
	Result *engine.RunResult `json:"result,omitempty"`
}

// renderError prints {"error": {...}} in structured formats, otherwise an
// ERROR: line on stderr followed by any partial run result.
func renderError(stdout, stderr io.Writer, err error) {
	var failure *runFailure
	var result *engine.RunResult
	if errors.As(err, &failure) {
		result = failure.result
	}
	if f := format(); f == formatJSON || f == formatYAML {
		envelope := errorEnvelope{Result: result}
		var structured json.Marshaler
		if errors.As(err, &structured) {
			envelope.Error = structured
		} else {
			envelope.Error = map[string]string{"message": err.Error()}
		}
		if rerr := render(stdout, envelope, nil); rerr != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
		}
		return
	}

	fmt.Fprintf(stderr, "ERROR: %v\n", err)
	var e *engine.Error
	if errors.As(err, &e) {
		for _, v := range e.Violations {
			fmt.Fprintf(stderr, "  %s: %d -> %d\n", v.File, v.Before, v.After)
		}
	}
	if result != nil {
		printRunResult(stderr, result)
	}
}
