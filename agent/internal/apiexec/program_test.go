package apiexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/probenet-io/probenet/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func apiTask(t *testing.T, program *types.APIProgram) *types.Task {
	t.Helper()
	raw, err := json.Marshal(program)
	if err != nil {
		t.Fatal(err)
	}
	return &types.Task{
		ID:     1,
		Type:   types.TaskTypeAPI,
		Config: types.DecodeTaskConfig(types.TaskTypeAPI, raw),
	}
}

func TestRunLoginThenFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token": "secret-token", "user_id": 7}`)
		case "/me":
			if r.Header.Get("Authorization") != "Bearer secret-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"id": 7, "name": "probe"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	program := &types.APIProgram{
		InitialVariables: map[string]any{"$base": srv.URL},
		Steps: []types.Step{
			{
				Name:    "login",
				Request: types.StepRequest{Method: "POST", URL: "$base/login"},
				Variables: []types.Extraction{
					{Variable: "$token", Source: types.ExtractFromJSONBody, Expression: "$.token"},
				},
				Assertions: []types.Assertion{
					{Source: "status_code", Comparison: types.CompareEqual, Target: float64(200)},
				},
			},
			{
				Name: "fetch profile",
				Request: types.StepRequest{
					URL:     "$base/me",
					Headers: map[string]string{"Authorization": "Bearer $token"},
				},
				Assertions: []types.Assertion{
					{Source: "json_body", Property: "$.id", Comparison: types.CompareEqual, Target: float64(7)},
				},
			},
		},
	}

	result := NewRunner(testLogger()).Run(context.Background(), apiTask(t, program))
	if result.Status != types.ResultStatusSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}

	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if len(details.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(details.Steps))
	}
	if details.PassedAssertions != 2 || details.TotalAssertions != 2 {
		t.Errorf("assertion counts: %d/%d", details.PassedAssertions, details.TotalAssertions)
	}
	if details.Steps[1].Request.Headers["Authorization"] != "***" {
		t.Errorf("authorization header must be masked, got %q", details.Steps[1].Request.Headers["Authorization"])
	}
}

func TestRunFailFastStopsProgram(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	program := &types.APIProgram{
		Steps: []types.Step{
			{
				Name:     "first",
				Request:  types.StepRequest{URL: srv.URL},
				FailFast: true,
				Assertions: []types.Assertion{
					{Source: "status_code", Comparison: types.CompareEqual, Target: float64(200)},
				},
			},
			{Name: "never runs", Request: types.StepRequest{URL: srv.URL}},
		},
	}

	result := NewRunner(testLogger()).Run(context.Background(), apiTask(t, program))
	if result.Status != types.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if calls != 1 {
		t.Errorf("fail_fast should stop after the first step, server saw %d calls", calls)
	}

	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if len(details.Steps) != 1 {
		t.Errorf("expected 1 recorded step, got %d", len(details.Steps))
	}
}

func TestRunExtractionFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"present": true}`)
	}))
	defer srv.Close()

	program := &types.APIProgram{
		Steps: []types.Step{{
			Request: types.StepRequest{URL: srv.URL},
			Variables: []types.Extraction{
				{Variable: "$gone", Source: types.ExtractFromJSONBody, Expression: "$.missing.path"},
			},
		}},
	}

	result := NewRunner(testLogger()).Run(context.Background(), apiTask(t, program))
	if result.Status != types.ResultStatusSuccess {
		t.Fatalf("extraction failure must not fail the step, got %s: %s", result.Status, result.Message)
	}

	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	ex := details.Steps[0].Extractions[0]
	if ex.OK || ex.Error == "" {
		t.Errorf("expected recorded extraction failure, got %+v", ex)
	}
}

func TestRunSanitizesPasswordField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	program := &types.APIProgram{
		Steps: []types.Step{{
			Request: types.StepRequest{
				Method: "POST",
				URL:    srv.URL,
				Body:   &types.StepBody{JSON: json.RawMessage(`{"username": "u", "password": "hunter2"}`)},
			},
		}},
	}

	result := NewRunner(testLogger()).Run(context.Background(), apiTask(t, program))
	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	body, ok := details.Steps[0].Request.Body.(map[string]any)
	if !ok {
		t.Fatalf("expected object body, got %T", details.Steps[0].Request.Body)
	}
	if body["password"] != "***" {
		t.Errorf("password must be masked, got %v", body["password"])
	}
	if body["username"] != "u" {
		t.Errorf("non-secret fields must survive, got %v", body["username"])
	}
}

func TestRunTextExtractionGroupSemantics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "build=v2.4.1 status=ok")
	}))
	defer srv.Close()

	program := &types.APIProgram{
		Steps: []types.Step{{
			Request: types.StepRequest{URL: srv.URL},
			Variables: []types.Extraction{
				{Variable: "$version", Source: types.ExtractFromTextBody, Expression: `build=(\S+)`},
				{Variable: "$status", Source: types.ExtractFromTextBody, Expression: `status=ok`},
			},
		}},
	}

	result := NewRunner(testLogger()).Run(context.Background(), apiTask(t, program))
	var details types.APIDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	exs := details.Steps[0].Extractions
	if exs[0].Value != "v2.4.1" {
		t.Errorf("capture group 1 expected, got %v", exs[0].Value)
	}
	if exs[1].Value != "status=ok" {
		t.Errorf("whole match expected when no group, got %v", exs[1].Value)
	}
}
