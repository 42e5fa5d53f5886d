package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// =============================================================================
// API PROGRAM
// =============================================================================

// VariableNamePattern is the accepted shape for program variable names.
var VariableNamePattern = regexp.MustCompile(`^\$[A-Za-z][A-Za-z0-9_]*$`)

// APIProgram is the config payload of an api task: a sequence of HTTP steps
// sharing a variable context.
type APIProgram struct {
	InitialVariables map[string]any   `json:"initial_variables,omitempty"`
	Authentications  []Authentication `json:"authentications,omitempty"`
	Steps            []Step           `json:"steps"`
}

// Validate enforces the rules checked at task create/update time.
func (p *APIProgram) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("api program requires at least one step")
	}
	for name := range p.InitialVariables {
		if !VariableNamePattern.MatchString(name) {
			return fmt.Errorf("invalid variable name %q", name)
		}
	}
	for i := range p.Steps {
		if err := p.Steps[i].validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// DefaultAuth returns the program-level default authentication, if any.
func (p *APIProgram) DefaultAuth() *Authentication {
	if len(p.Authentications) == 0 {
		return nil
	}
	return &p.Authentications[0]
}

// Step is one HTTP request plus its extractions and assertions.
type Step struct {
	StepID      string       `json:"step_id,omitempty"`
	Name        string       `json:"name,omitempty"`
	Request     StepRequest  `json:"request"`
	Extractions []Extraction `json:"extract,omitempty"`
	// Variables is the v2 spelling of Extractions; both are honored.
	Variables  []Extraction `json:"variables,omitempty"`
	Assertions []Assertion  `json:"assertions,omitempty"`
	FailFast   bool         `json:"fail_fast,omitempty"`
	Alerts     *StepAlerts  `json:"alerts,omitempty"`
}

// AllExtractions merges the two extraction spellings in declaration order.
func (s *Step) AllExtractions() []Extraction {
	if len(s.Variables) == 0 {
		return s.Extractions
	}
	out := make([]Extraction, 0, len(s.Extractions)+len(s.Variables))
	out = append(out, s.Extractions...)
	out = append(out, s.Variables...)
	return out
}

func (s *Step) validate() error {
	if s.Request.URL == "" {
		return fmt.Errorf("request url is required")
	}
	for _, e := range s.AllExtractions() {
		if e.Variable != "" && !VariableNamePattern.MatchString(e.Variable) {
			return fmt.Errorf("invalid extraction variable %q", e.Variable)
		}
	}
	return nil
}

// StepAlerts are the step-level alert knobs evaluated by the matcher.
type StepAlerts struct {
	AllowedStatusCodes        string     `json:"allowedStatusCodes,omitempty"` // "200,2xx,301"
	StatusCodeAlertLevel      AlertLevel `json:"statusCodeAlertLevel,omitempty"`
	ResponseTimeThresholdSecs float64    `json:"responseTimeThreshold,omitempty"` // legacy unit: seconds
	ResponseTimeAlertLevel    AlertLevel `json:"responseTimeAlertLevel,omitempty"`
}

// =============================================================================
// STEP REQUEST
// =============================================================================

// StepRequest describes the HTTP request of a step. String fields may contain
// $variable references resolved against the program context before sending.
type StepRequest struct {
	Method  string            `json:"method,omitempty"` // default GET
	URL     string            `json:"url"`
	Params  map[string]string `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *StepBody         `json:"body,omitempty"`
	Auth    *Authentication   `json:"auth,omitempty"`
	Timeout *StepTimeout      `json:"timeout,omitempty"`
	TLS     *StepTLS          `json:"tls,omitempty"`
}

// StepBody carries exactly one body shape.
type StepBody struct {
	JSON json.RawMessage   `json:"json,omitempty"`
	Form map[string]string `json:"form,omitempty"`
	Text string            `json:"text,omitempty"`
}

// StepTimeout accepts either a single number (total seconds) or an object
// with connect and read seconds.
type StepTimeout struct {
	ConnectSeconds float64 `json:"connect,omitempty"`
	ReadSeconds    float64 `json:"read,omitempty"`
}

// UnmarshalJSON handles the scalar-or-object shape.
func (t *StepTimeout) UnmarshalJSON(data []byte) error {
	var single float64
	if err := json.Unmarshal(data, &single); err == nil {
		t.ConnectSeconds = single
		t.ReadSeconds = single
		return nil
	}
	type alias StepTimeout
	return json.Unmarshal(data, (*alias)(t))
}

// StepTLS carries per-step TLS options.
type StepTLS struct {
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// AuthType enumerates the supported request authentication schemes.
type AuthType string

const (
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeDigest AuthType = "digest"
	AuthTypeOAuth1 AuthType = "oauth1"
	AuthTypeOAuth2 AuthType = "oauth2"
)

// Authentication configures one auth scheme. Fields used depend on Type.
type Authentication struct {
	Name     string   `json:"name,omitempty"`
	Type     AuthType `json:"type"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Token    string   `json:"token,omitempty"`
	// api_key placement
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	In    string `json:"in,omitempty"` // "header" (default) or "query"
	// oauth1 credentials
	ConsumerKey    string `json:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty"`
	TokenSecret    string `json:"token_secret,omitempty"`
	// oauth2 pre-obtained token, sent as a bearer header
	AccessToken string `json:"access_token,omitempty"`
}

// =============================================================================
// EXTRACTION
// =============================================================================

// ExtractionSource enumerates where a value is extracted from.
type ExtractionSource string

const (
	ExtractFromJSONBody   ExtractionSource = "json_body"
	ExtractFromTextBody   ExtractionSource = "text_body"
	ExtractFromHeaders    ExtractionSource = "headers"
	ExtractFromStatusCode ExtractionSource = "status_code"
)

// Extraction pulls one value from a step response into the variable context.
// Expression is a JSONPath for json_body, a regex for text_body, and a header
// name for headers; status_code ignores it.
type Extraction struct {
	Variable   string           `json:"variable"`
	Source     ExtractionSource `json:"source"`
	Expression string           `json:"expression,omitempty"`
}

// =============================================================================
// ASSERTION
// =============================================================================

// Comparison enumerates assertion operators.
type Comparison string

const (
	CompareEqual       Comparison = "equal"
	CompareNotEqual    Comparison = "not_equal"
	CompareGreaterThan Comparison = "greater_than"
	CompareLessThan    Comparison = "less_than"
	CompareContains    Comparison = "contains"
	CompareNotContains Comparison = "not_contains"
	CompareExists      Comparison = "exists"
	CompareNotExists   Comparison = "not_exists"
	CompareEmpty       Comparison = "empty"
	CompareNotEmpty    Comparison = "not_empty"
	CompareMatches     Comparison = "matches"
)

// AlertCondition controls when an assertion raises an alert.
type AlertCondition string

const (
	AlertWhenMatch    AlertCondition = "match"
	AlertWhenNotMatch AlertCondition = "not_match"
)

// Assertion checks one property of a step response. Source selects the
// subject (status_code, response_time, json_body, text_body, headers);
// Property narrows json_body (JSONPath) and headers (header name).
type Assertion struct {
	Name           string         `json:"name,omitempty"`
	Source         string         `json:"source"`
	Property       string         `json:"property,omitempty"`
	Comparison     Comparison     `json:"comparison"`
	Target         any            `json:"target,omitempty"`
	EnableAlert    bool           `json:"enable_alert,omitempty"`
	AlertCondition AlertCondition `json:"alert_condition,omitempty"`
	AlertLevel     AlertLevel     `json:"alert_level,omitempty"`
}

// =============================================================================
// STEP RESULT
// =============================================================================

// AssertionResult records one evaluated assertion.
type AssertionResult struct {
	Name       string     `json:"name,omitempty"`
	Source     string     `json:"source"`
	Property   string     `json:"property,omitempty"`
	Comparison Comparison `json:"comparison"`
	Target     any        `json:"target,omitempty"`
	Actual     any        `json:"actual,omitempty"`
	Passed     bool       `json:"passed"`
	Message    string     `json:"message,omitempty"`

	EnableAlert    bool           `json:"enable_alert,omitempty"`
	AlertCondition AlertCondition `json:"alert_condition,omitempty"`
	AlertLevel     AlertLevel     `json:"alert_level,omitempty"`
}

// ExtractionResult records one extraction attempt. Failed extractions are
// recorded but never fail the step.
type ExtractionResult struct {
	Variable string `json:"variable"`
	Source   string `json:"source"`
	Value    any    `json:"value,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// SanitizedRequest is the request as recorded in step results, with
// credential material masked.
type SanitizedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// StepResult is the recorded outcome of one executed step.
type StepResult struct {
	StepID         string             `json:"step_id,omitempty"`
	Name           string             `json:"name,omitempty"`
	Status         ResultStatus       `json:"status"`
	StatusCode     int                `json:"status_code,omitempty"`
	ResponseTimeMs float64            `json:"response_time"`
	Request        *SanitizedRequest  `json:"request,omitempty"`
	ResponseSize   int64              `json:"response_size,omitempty"`
	Extractions    []ExtractionResult `json:"extractions,omitempty"`
	Assertions     []AssertionResult  `json:"assertions,omitempty"`
	Error          string             `json:"error,omitempty"`
	Alerts         *StepAlerts        `json:"alerts,omitempty"`
}
