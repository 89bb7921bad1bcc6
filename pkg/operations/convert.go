package operations

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	list := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

// toReport interprets a script function's return value:
//
//	None                 empty report
//	"text"               summary
//	["a.py", ...]        files modified
//	{"summary": ..., "files_modified": [...], "changes": [...], "metadata": {...}}
//
// A struct is read like a dict.
func toReport(v starlark.Value) (*engine.Report, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, err
	}

	report := &engine.Report{}
	switch val := goVal.(type) {
	case nil:
	case string:
		report.Summary = val
	case []interface{}:
		report.FilesModified, err = toStrings(val, "result")
	case map[string]interface{}:
		err = fillReport(report, val)
	default:
		err = fmt.Errorf("unsupported result type %T", goVal)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func fillReport(report *engine.Report, m map[string]interface{}) error {
	for key, raw := range m {
		switch key {
		case "summary":
			s, ok := raw.(string)
			if !ok {
				return fmt.Errorf("summary must be a string, got %T", raw)
			}
			report.Summary = s
		case "files_modified":
			list, ok := raw.([]interface{})
			if !ok {
				return fmt.Errorf("files_modified must be a list, got %T", raw)
			}
			files, err := toStrings(list, "files_modified")
			if err != nil {
				return err
			}
			report.FilesModified = files
		case "changes":
			list, ok := raw.([]interface{})
			if !ok {
				return fmt.Errorf("changes must be a list, got %T", raw)
			}
			for i, item := range list {
				c, ok := item.(map[string]interface{})
				if !ok {
					return fmt.Errorf("changes[%d] must be a dict", i)
				}
				path, _ := c["path"].(string)
				desc, _ := c["description"].(string)
				if path == "" {
					return fmt.Errorf("changes[%d] has no path", i)
				}
				report.Changes = append(report.Changes, engine.Change{Path: path, Description: desc})
			}
		case "metadata":
			meta, ok := raw.(map[string]interface{})
			if !ok {
				return fmt.Errorf("metadata must be a dict, got %T", raw)
			}
			report.Metadata = meta
		default:
			return fmt.Errorf("unknown result key %q", key)
		}
	}
	return nil
}

func toStrings(list []interface{}, field string) ([]string, error) {
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string, got %T", field, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
