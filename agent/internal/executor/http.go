// Package executor - HTTP executor with phase timing.
//
// # Phase Timing
//
// One execution measures four phases separately via httptrace:
//
//  1. DNS resolution (with the resolved address set)
//  2. TCP connect
//  3. TLS handshake (https only)
//  4. HTTP exchange, split into time-to-first-byte and body download
//
// The run stops at the first failing phase; times for phases that already
// completed are still reported. Any HTTP status code counts as a completed
// exchange, status evaluation belongs to the alert matcher.
package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// HTTPExecutor probes web endpoints.
type HTTPExecutor struct{}

// NewHTTPExecutor creates an http executor.
func NewHTTPExecutor() *HTTPExecutor { return &HTTPExecutor{} }

// Type returns the task type this executor handles.
func (e *HTTPExecutor) Type() types.TaskType { return types.TaskTypeHTTP }

// Capabilities returns what this executor needs.
func (e *HTTPExecutor) Capabilities() Capabilities { return Capabilities{} }

// phaseClock accumulates per-phase timings from httptrace callbacks.
type phaseClock struct {
	dnsStart  time.Time
	dnsDone   time.Time
	dnsIPs    []string
	connStart time.Time
	connDone  time.Time
	tlsStart  time.Time
	tlsDone   time.Time
	wroteReq  time.Time
	firstByte time.Time
}

func (p *phaseClock) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { p.dnsStart = time.Now() },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			p.dnsDone = time.Now()
			for _, a := range info.Addrs {
				p.dnsIPs = append(p.dnsIPs, a.String())
			}
		},
		ConnectStart: func(string, string) {
			if p.connStart.IsZero() {
				p.connStart = time.Now()
			}
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil && p.connDone.IsZero() {
				p.connDone = time.Now()
			}
		},
		TLSHandshakeStart: func() { p.tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				p.tlsDone = time.Now()
			}
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { p.wroteReq = time.Now() },
		GotFirstResponseByte: func() { p.firstByte = time.Now() },
	}
}

// failedPhase names the first phase that did not complete.
func (p *phaseClock) failedPhase(isTLS bool) string {
	if !p.dnsStart.IsZero() && p.dnsDone.IsZero() {
		return "dns"
	}
	if !p.connStart.IsZero() && p.connDone.IsZero() {
		return "tcp"
	}
	if isTLS && !p.tlsStart.IsZero() && p.tlsDone.IsZero() {
		return "ssl"
	}
	return "http"
}

func millis(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return float64(to.Sub(from)) / float64(time.Millisecond)
}

// Execute performs one timed HTTP exchange against the task target.
func (e *HTTPExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	cfg := task.Config.HTTP
	if cfg == nil {
		cfg = &types.HTTPConfig{Method: "GET", TimeoutSeconds: 30}
	}
	method := cfg.Method
	if method == "" {
		method = "GET"
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clock := &phaseClock{}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(runCtx, clock.trace()), method, task.Target, nil)
	if err != nil {
		return baseResult(task, types.ResultStatusError, 0, fmt.Sprintf("invalid request: %v", err))
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		// Fresh transport per run so connection reuse never hides a phase.
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	if cfg.FollowRedirects != nil && !*cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	isTLS := strings.HasPrefix(strings.ToLower(task.Target), "https://")

	start := time.Now()
	resp, err := client.Do(req)
	details := types.HTTPDetails{
		DNSTimeMs: millis(clock.dnsStart, clock.dnsDone),
		TCPTimeMs: millis(clock.connStart, clock.connDone),
		SSLTimeMs: millis(clock.tlsStart, clock.tlsDone),
		DNSIPs:    clock.dnsIPs,
	}

	if err != nil {
		elapsed := time.Since(start)
		details.FailedPhase = clock.failedPhase(isTLS)
		details.PhaseError = err.Error()

		status := types.ResultStatusFailed
		msg := fmt.Sprintf("%s phase failed: %v", details.FailedPhase, err)
		if runCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("request timed out after %s in %s phase", timeout, details.FailedPhase)
		}
		res := baseResult(task, status, elapsed, msg)
		res.Details = types.MarshalDetails(details)
		return res
	}
	defer resp.Body.Close()

	details.FirstByteTimeMs = millis(clock.wroteReq, clock.firstByte)

	downloadStart := time.Now()
	n, readErr := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)

	details.DownloadTimeMs = float64(time.Since(downloadStart)) / float64(time.Millisecond)
	details.HTTPTimeMs = details.FirstByteTimeMs + details.DownloadTimeMs
	details.StatusCode = resp.StatusCode
	details.FinalURL = resp.Request.URL.String()
	details.ContentLength = n
	details.ResponseHeaders = flattenHeaders(resp.Header)

	if readErr != nil {
		details.FailedPhase = "http"
		details.PhaseError = readErr.Error()
		res := baseResult(task, types.ResultStatusFailed, elapsed, fmt.Sprintf("body read failed: %v", readErr))
		res.Details = types.MarshalDetails(details)
		return res
	}

	msg := fmt.Sprintf("%s %s -> %d in %.2fms", method, task.Target, resp.StatusCode, float64(elapsed)/float64(time.Millisecond))
	res := baseResult(task, types.ResultStatusSuccess, elapsed, msg)
	res.Details = types.MarshalDetails(details)
	return res
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
