package source

import (
	"fmt"
	"strconv"
)

// Typed accessors for resolved task parameter maps. Parameters arrive from
// JSON surfaces (float64 numbers, []any arrays) as well as from in-process
// callers, so each accessor tolerates both shapes.

// StringParam returns the string value for key, or "" if absent.
func StringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// StringParamOr returns the string value for key, or fallback if absent or
// empty.
func StringParamOr(params map[string]any, key, fallback string) string {
	if v := StringParam(params, key); v != "" {
		return v
	}
	return fallback
}

// Int64Param returns the integer value for key, or 0 if absent.
func Int64Param(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

// BoolParam returns the boolean value for key, or false if absent.
func BoolParam(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// StringSliceParam returns the string-array value for key.
func StringSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringMapParam returns the string-map value for key.
func StringMapParam(params map[string]any, key string) map[string]string {
	switch v := params[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// Int64SliceParam returns the integer-array value for key.
func Int64SliceParam(params map[string]any, key string) []int64 {
	switch v := params[key].(type) {
	case []int64:
		return v
	case []any:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int64:
				out = append(out, n)
			case float64:
				out = append(out, int64(n))
			}
		}
		return out
	}
	return nil
}

// ObjectsParam returns the composite-field value for key: a list of
// string-keyed objects.
func ObjectsParam(params map[string]any, key string) []map[string]any {
	switch v := params[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// TimeseriesOffsets returns the offsets copied onto resolved timeseries
// task parameters, if any.
func TimeseriesOffsets(params map[string]any) []int64 {
	return Int64SliceParam(params, paramTimeseriesOffsets)
}

// RequireConnector fails with a descriptive error when an executor needs a
// connector and none was attached to the task.
func RequireConnector(conn *Connector, s Source) error {
	if conn == nil {
		return fmt.Errorf("task execution failed: no %s connector found", s)
	}
	return nil
}
