package templatefmt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// FuncMap returns helpers shared by channel message and telemetry query templates.
// Params: none.
// Returns: helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration":  FormatDuration,
		"promDuration": PromDuration,
		"json":         MarshalJSON,
		"kv":           FormatPairs,
		"upper":        strings.ToUpper,
	}
}

// Parse compiles one template with shared helpers and strict key lookup.
// Params: template name and body.
// Returns: compiled template or parse error.
func Parse(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render executes a compiled template into a string.
// Params: compiled template and data value.
// Returns: rendered text or execution error.
func Render(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// PromDuration renders a duration as a PromQL range selector ("1800s").
func PromDuration(value time.Duration) string {
	seconds := int64(value / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%ds", seconds)
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: any value.
// Returns: JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

// FormatPairs renders a string map as sorted "key: value" lines.
// Params: map of free-form notification data.
// Returns: newline separated pairs, empty for empty map.
func FormatPairs(values map[string]string) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+values[key])
	}
	return strings.Join(lines, "\n")
}
