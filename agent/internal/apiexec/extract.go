package apiexec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/probenet-io/probenet/pkg/types"
)

// stepResponse is the decoded step response handed to extraction and
// assertion evaluation.
type stepResponse struct {
	StatusCode     int
	ResponseTimeMs float64
	Headers        map[string]string
	Body           []byte
	jsonOnce       bool
	jsonDoc        any
	jsonErr        error
}

// JSON lazily decodes the body.
func (r *stepResponse) JSON() (any, error) {
	if !r.jsonOnce {
		r.jsonOnce = true
		r.jsonErr = json.Unmarshal(r.Body, &r.jsonDoc)
	}
	return r.jsonDoc, r.jsonErr
}

// header does a case-insensitive lookup.
func (r *stepResponse) header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// runExtractions evaluates every extraction against the response and stores
// successful values in the context. Failures are recorded, never fatal.
func runExtractions(ctx Context, extractions []types.Extraction, resp *stepResponse) []types.ExtractionResult {
	if len(extractions) == 0 {
		return nil
	}
	out := make([]types.ExtractionResult, 0, len(extractions))
	for _, ex := range extractions {
		res := types.ExtractionResult{Variable: ex.Variable, Source: string(ex.Source)}
		value, err := extractValue(ex, resp)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
			res.Value = value
			if ex.Variable != "" {
				ctx.Set(ex.Variable, value)
			}
		}
		out = append(out, res)
	}
	return out
}

// extractValue pulls one value from the response per the extraction source.
func extractValue(ex types.Extraction, resp *stepResponse) (any, error) {
	switch ex.Source {
	case types.ExtractFromStatusCode:
		return float64(resp.StatusCode), nil

	case types.ExtractFromHeaders:
		v, ok := resp.header(ex.Expression)
		if !ok {
			return nil, fmt.Errorf("header %q not present", ex.Expression)
		}
		return v, nil

	case types.ExtractFromJSONBody:
		doc, err := resp.JSON()
		if err != nil {
			return nil, fmt.Errorf("response body is not json: %w", err)
		}
		return evalJSONPath(ex.Expression, doc)

	case types.ExtractFromTextBody:
		re, err := regexp.Compile(ex.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", ex.Expression, err)
		}
		m := re.FindStringSubmatch(string(resp.Body))
		if m == nil {
			return nil, fmt.Errorf("regex %q matched nothing", ex.Expression)
		}
		// Group 1 when the pattern captures, whole match otherwise.
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil

	default:
		return nil, fmt.Errorf("unknown extraction source: %s", ex.Source)
	}
}

// evalJSONPath evaluates a JSONPath expression, returning the first element
// when the path yields a result set.
func evalJSONPath(expr string, doc any) (any, error) {
	v, err := jsonpath.Get(expr, doc)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", expr, err)
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("jsonpath %q matched nothing", expr)
		}
		return list[0], nil
	}
	return v, nil
}
