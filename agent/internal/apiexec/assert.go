package apiexec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/probenet-io/probenet/pkg/types"
)

// runAssertions evaluates every assertion against the response. An assertion
// that cannot be evaluated (bad source, unknown operator) counts as failed
// with the reason in Message.
func runAssertions(assertions []types.Assertion, resp *stepResponse) []types.AssertionResult {
	if len(assertions) == 0 {
		return nil
	}
	out := make([]types.AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		res := types.AssertionResult{
			Name:           a.Name,
			Source:         a.Source,
			Property:       a.Property,
			Comparison:     a.Comparison,
			Target:         a.Target,
			EnableAlert:    a.EnableAlert,
			AlertCondition: a.AlertCondition,
			AlertLevel:     a.AlertLevel,
		}

		actual, present, err := assertionSubject(a, resp)
		res.Actual = actual
		if err != nil {
			res.Passed = false
			res.Message = err.Error()
			out = append(out, res)
			continue
		}

		passed, msg := compare(a.Comparison, actual, present, a.Target)
		res.Passed = passed
		res.Message = msg
		out = append(out, res)
	}
	return out
}

// assertionSubject resolves the value an assertion examines. present is false
// when the addressed value does not exist (missing header, empty JSONPath
// result); exists-style comparisons use it directly.
func assertionSubject(a types.Assertion, resp *stepResponse) (any, bool, error) {
	switch a.Source {
	case "status_code":
		return float64(resp.StatusCode), true, nil
	case "response_time":
		return resp.ResponseTimeMs, true, nil
	case "text_body":
		return string(resp.Body), len(resp.Body) > 0, nil
	case "headers":
		v, ok := resp.header(a.Property)
		return v, ok, nil
	case "json_body":
		doc, err := resp.JSON()
		if err != nil {
			return nil, false, fmt.Errorf("response body is not json: %v", err)
		}
		if a.Property == "" {
			return doc, doc != nil, nil
		}
		v, err := evalJSONPath(a.Property, doc)
		if err != nil {
			return nil, false, nil
		}
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("unknown assertion source: %s", a.Source)
	}
}

// compare applies the comparison operator. The second return is a short
// human-readable verdict used in step messages.
func compare(op types.Comparison, actual any, present bool, target any) (bool, string) {
	switch op {
	case types.CompareExists:
		return present, verdict(present, "value exists", "value does not exist")
	case types.CompareNotExists:
		return !present, verdict(!present, "value does not exist", "value exists")
	case types.CompareEmpty:
		ok := isEmpty(actual)
		return ok, verdict(ok, "value is empty", fmt.Sprintf("value %v is not empty", actual))
	case types.CompareNotEmpty:
		ok := !isEmpty(actual)
		return ok, verdict(ok, "value is not empty", "value is empty")
	}

	switch op {
	case types.CompareEqual:
		ok := looseEqual(actual, target)
		return ok, verdict(ok, equalMsg(actual, target, true), equalMsg(actual, target, false))
	case types.CompareNotEqual:
		ok := !looseEqual(actual, target)
		return ok, verdict(ok, fmt.Sprintf("%v != %v", actual, target), fmt.Sprintf("%v == %v", actual, target))
	case types.CompareGreaterThan, types.CompareLessThan:
		av, aok := toFloat(actual)
		tv, tok := toFloat(target)
		if !aok || !tok {
			return false, fmt.Sprintf("cannot compare %v and %v numerically", actual, target)
		}
		if op == types.CompareGreaterThan {
			ok := av > tv
			return ok, verdict(ok, fmt.Sprintf("%v > %v", av, tv), fmt.Sprintf("%v <= %v", av, tv))
		}
		ok := av < tv
		return ok, verdict(ok, fmt.Sprintf("%v < %v", av, tv), fmt.Sprintf("%v >= %v", av, tv))
	case types.CompareContains:
		ok := strings.Contains(Stringify(actual), Stringify(target))
		return ok, verdict(ok, "value contains target", fmt.Sprintf("%q does not contain %q", Stringify(actual), Stringify(target)))
	case types.CompareNotContains:
		ok := !strings.Contains(Stringify(actual), Stringify(target))
		return ok, verdict(ok, "value does not contain target", fmt.Sprintf("%q contains %q", Stringify(actual), Stringify(target)))
	case types.CompareMatches:
		re, err := regexp.Compile(Stringify(target))
		if err != nil {
			return false, fmt.Sprintf("invalid pattern %q: %v", Stringify(target), err)
		}
		ok := re.MatchString(Stringify(actual))
		return ok, verdict(ok, "value matches pattern", fmt.Sprintf("%q does not match %q", Stringify(actual), Stringify(target)))
	default:
		return false, fmt.Sprintf("unknown comparison: %s", op)
	}
}

func verdict(passed bool, pass, fail string) string {
	if passed {
		return pass
	}
	return fail
}

func equalMsg(actual, target any, passed bool) string {
	if passed {
		return fmt.Sprintf("%v == %v", actual, target)
	}
	return fmt.Sprintf("expected %v, got %v", target, actual)
}

// looseEqual compares with numeric coercion so "200" equals 200. Falls back
// to string-form comparison for everything non-numeric.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return Stringify(a) == Stringify(b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
