// Package out renders response envelopes as JSON or line-oriented plain text.
package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/qinghaihe378-ai/dexroute/internal/config"
	"github.com/qinghaihe378-ai/dexroute/internal/model"
)

// Render writes the envelope to w according to the output settings.
// --select projects data fields before encoding, and --results-only
// drops the envelope wrapper entirely.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = pickFields(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return writeJSON(w, data)
		}
		return writeRows(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return writeJSON(w, env)
	}
	return writeEnvelopePlain(w, env, data)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEnvelopePlain prints the envelope one section per line: a status
// line, then data rows, then any warnings and the error.
func writeEnvelopePlain(w io.Writer, env model.Envelope, data any) error {
	if _, err := fmt.Fprintf(w, "success=%v\n", env.Success); err != nil {
		return err
	}
	if err := writeRows(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error: %s (%s)\n", env.Error.Message, env.Error.Type); err != nil {
			return err
		}
	}
	return nil
}

// writeRows prints one line per element for slices and a single line
// otherwise. Maps become sorted key=value pairs.
func writeRows(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := writeRow(w, v.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return writeRow(w, data)
}

func writeRow(w io.Writer, v any) error {
	line, err := formatRow(jsonValue(v))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, line)
	return err
}

func formatRow(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " "), nil
}

// pickFields keeps only the requested fields of each data object.
// Non-object data passes through unchanged.
func pickFields(data any, fields []string) any {
	switch t := jsonValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, pickKeys(m, fields))
		}
		return out
	case map[string]any:
		return pickKeys(t, fields)
	default:
		return t
	}
}

func pickKeys(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// jsonValue round-trips v through JSON so structs and typed slices
// collapse into the generic map/slice shapes the formatters expect.
func jsonValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}
