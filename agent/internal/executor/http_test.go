package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/probenet-io/probenet/pkg/types"
)

func httpTask(t *testing.T, target, rawConfig string) *types.Task {
	t.Helper()
	return &types.Task{
		ID:     1,
		Type:   types.TaskTypeHTTP,
		Target: target,
		Config: types.DecodeTaskConfig(types.TaskTypeHTTP, json.RawMessage(rawConfig)),
	}
}

func TestHTTPExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Probe", "yes")
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	result := NewHTTPExecutor().Execute(context.Background(), httpTask(t, srv.URL, ""))
	if result.Status != types.ResultStatusSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}

	var details types.HTTPDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", details.StatusCode)
	}
	if details.ContentLength != 5 {
		t.Errorf("content length = %d, want 5", details.ContentLength)
	}
	if details.ResponseHeaders["X-Probe"] != "yes" {
		t.Errorf("response headers not captured: %v", details.ResponseHeaders)
	}
	if details.TCPTimeMs <= 0 {
		t.Errorf("tcp phase should be timed, got %v", details.TCPTimeMs)
	}
}

func TestHTTPExecuteErrorStatusIsStillSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := NewHTTPExecutor().Execute(context.Background(), httpTask(t, srv.URL, ""))
	if result.Status != types.ResultStatusSuccess {
		t.Fatalf("a completed exchange is success regardless of status code, got %s", result.Status)
	}

	var details types.HTTPDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details.StatusCode != 500 {
		t.Errorf("status code = %d, want 500", details.StatusCode)
	}
}

func TestHTTPExecuteConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close() // connect now fails

	result := NewHTTPExecutor().Execute(context.Background(), httpTask(t, target, `{"timeout": 2}`))
	if result.Status != types.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}

	var details types.HTTPDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details.FailedPhase != "tcp" {
		t.Errorf("failed phase = %q, want tcp", details.FailedPhase)
	}
	if details.PhaseError == "" {
		t.Error("phase error should carry the dial failure")
	}
}

func TestHTTPExecuteNoFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusMovedPermanently)
			return
		}
		fmt.Fprint(w, "landed")
	}))
	defer srv.Close()

	result := NewHTTPExecutor().Execute(context.Background(), httpTask(t, srv.URL, `{"follow_redirects": false}`))
	var details types.HTTPDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details.StatusCode != http.StatusMovedPermanently {
		t.Errorf("redirect should not be followed, got status %d", details.StatusCode)
	}
}
