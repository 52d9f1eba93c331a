package source

import (
	"fmt"
	"sort"
	"strings"
)

// VariableToken returns the literal `$name` token for a global variable
// name, tolerating names already carrying the prefix.
func VariableToken(name string) string {
	if strings.HasPrefix(name, "$") {
		return name
	}
	return "$" + name
}

// isWordByte reports whether b can be part of a variable name.
func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// containsToken reports whether s contains token as a whole variable
// reference, i.e. not immediately followed by another word character.
// `$env` does not match inside `$environment`.
func containsToken(s, token string) bool {
	for i := 0; ; {
		idx := strings.Index(s[i:], token)
		if idx < 0 {
			return false
		}
		end := i + idx + len(token)
		if end >= len(s) || !isWordByte(s[end]) {
			return true
		}
		i = i + idx + 1
	}
}

// replaceToken substitutes every whole-token occurrence of token in s.
func replaceToken(s, token, value string) string {
	var b strings.Builder
	for {
		idx := strings.Index(s, token)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := idx + len(token)
		if end >= len(s) || !isWordByte(s[end]) {
			b.WriteString(s[:idx])
			b.WriteString(value)
		} else {
			b.WriteString(s[:end])
		}
		s = s[end:]
	}
}

// ResolveVariables substitutes global variable references into the task's
// declared form fields and returns the resolved parameter map alongside the
// task-local variable map (the globals this task actually referenced).
//
// The input params map is never mutated; substitution happens on a working
// copy. A null global value fails the whole resolution regardless of
// whether the variable is referenced.
func ResolveVariables(fields []FormField, globals map[string]any, params map[string]any) (map[string]any, map[string]any, error) {
	for name, value := range globals {
		if value == nil {
			return nil, nil, &InvalidVariableError{Name: VariableToken(name)}
		}
	}

	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = v
	}

	// Deterministic substitution order.
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	taskLocal := make(map[string]any)
	for _, name := range names {
		token := VariableToken(name)
		value := fmt.Sprint(globals[name])
		used := false

		for _, field := range fields {
			raw, ok := resolved[field.KeyName]
			if !ok {
				continue
			}
			replaced, hit := substituteField(field, raw, token, value)
			if hit {
				used = true
				resolved[field.KeyName] = replaced
			}
		}
		if used {
			taskLocal[token] = globals[name]
		}
	}
	return resolved, taskLocal, nil
}

// substituteField applies token substitution to one field value according
// to the field's declared type. It returns the (possibly copied) value and
// whether the token was referenced anywhere in the raw value.
func substituteField(field FormField, raw any, token, value string) (any, bool) {
	if len(field.Composite) > 0 {
		return substituteComposite(field.Composite, raw, token, value)
	}

	switch field.DataType {
	case DataTypeString:
		if s, ok := raw.(string); ok && containsToken(s, token) {
			return replaceToken(s, token, value), true
		}
		// A dict-valued string field has the token replaced per key.
		if m, ok := raw.(map[string]any); ok {
			return substituteMap(m, token, value)
		}
	case DataTypeStringMap:
		if m, ok := raw.(map[string]any); ok {
			return substituteMap(m, token, value)
		}
	case DataTypeStringArray:
		switch items := raw.(type) {
		case []string:
			return substituteStrings(items, token, value)
		case []any:
			hit := false
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = item
				if s, ok := item.(string); ok && containsToken(s, token) {
					out[i] = replaceToken(s, token, value)
					hit = true
				}
			}
			if hit {
				return out, true
			}
		}
	}
	return raw, false
}

func substituteStrings(items []string, token, value string) (any, bool) {
	hit := false
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s
		if containsToken(s, token) {
			out[i] = replaceToken(s, token, value)
			hit = true
		}
	}
	return out, hit
}

func substituteMap(m map[string]any, token, value string) (any, bool) {
	hit := false
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
		if s, ok := v.(string); ok && containsToken(s, token) {
			out[k] = replaceToken(s, token, value)
			hit = true
		}
	}
	if hit {
		return out, true
	}
	return m, false
}

// substituteComposite applies substitution to each string-typed sub-field
// of each element of a composite field value.
func substituteComposite(subFields []FormField, raw any, token, value string) (any, bool) {
	items, ok := raw.([]any)
	if !ok {
		return raw, false
	}
	hit := false
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
		elem, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var copied map[string]any
		for _, sf := range subFields {
			if sf.DataType != DataTypeString {
				continue
			}
			s, ok := elem[sf.KeyName].(string)
			if !ok || !containsToken(s, token) {
				continue
			}
			if copied == nil {
				copied = make(map[string]any, len(elem))
				for k, v := range elem {
					copied[k] = v
				}
			}
			copied[sf.KeyName] = replaceToken(s, token, value)
			hit = true
		}
		if copied != nil {
			out[i] = copied
		}
	}
	if hit {
		return out, true
	}
	return raw, false
}
