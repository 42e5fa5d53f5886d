// Package apiexec runs multi-step API transaction programs.
//
// A program is a sequence of HTTP steps sharing a variable context. Steps
// extract values from responses into the context; later steps reference them
// as $name in URLs, params, headers, and bodies.
package apiexec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Context holds the program variables. Keys include the leading "$".
type Context map[string]any

// NewContext seeds a context from initial variables and tenant system
// variables, in that order. System variables overwrite initial ones.
func NewContext(initial map[string]any, system map[string]string) Context {
	ctx := make(Context, len(initial)+len(system))
	for k, v := range initial {
		ctx[k] = v
	}
	for k, v := range system {
		ctx[k] = v
	}
	return ctx
}

// Set stores a variable.
func (c Context) Set(name string, value any) { c[name] = value }

// Substitute replaces every $name reference in s with the variable's string
// form. Names are applied longest first in a single pass, so a variable whose
// name is a prefix of another ($id vs $id_token) never clobbers the longer
// reference.
func (c Context) Substitute(s string) string {
	if len(c) == 0 || !strings.Contains(s, "$") {
		return s
	}
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if strings.Contains(s, name) {
			s = strings.ReplaceAll(s, name, Stringify(c[name]))
		}
	}
	return s
}

// SubstituteMap applies Substitute to every value of a string map.
func (c Context) SubstituteMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = c.Substitute(v)
	}
	return out
}

// Stringify renders a variable value the way it appears after substitution.
// Whole-number floats print without a fractional part since JSON decoding
// turns all numbers into float64.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
