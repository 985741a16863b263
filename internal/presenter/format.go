// Package presenter renders job snapshots for people: live terminal output,
// and Markdown, HTML and PDF summaries of a finished job.
package presenter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Field is one rendered entry of a job result
type Field struct {
	Key    string
	Label  string
	Value  string
	Nested bool
}

// FieldLabel turns a result key into a display label
func FieldLabel(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// FormatValue renders scalars inline and nested values as indented JSON
func FormatValue(v any) (string, bool) {
	switch typed := v.(type) {
	case nil:
		return "", false
	case string:
		return typed, false
	case json.Number:
		return typed.String(), false
	case bool, float64, float32, int, int64:
		return fmt.Sprint(typed), false
	case map[string]any, []any:
		data, err := json.MarshalIndent(typed, "", "  ")
		if err != nil {
			return fmt.Sprint(typed), true
		}
		return string(data), true
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed), false
		}
		return string(data), false
	}
}

// ResultFields orders a result's entries by key
func ResultFields(result map[string]any) []Field {
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		value, nested := FormatValue(result[k])
		fields = append(fields, Field{Key: k, Label: FieldLabel(k), Value: value, Nested: nested})
	}
	return fields
}
