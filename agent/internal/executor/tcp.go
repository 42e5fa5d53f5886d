// Package executor - TCP connect executor.
package executor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

const defaultTCPPort = 80

// TCPExecutor checks TCP reachability by completing a connect handshake.
type TCPExecutor struct{}

// NewTCPExecutor creates a tcp executor.
func NewTCPExecutor() *TCPExecutor { return &TCPExecutor{} }

// Type returns the task type this executor handles.
func (e *TCPExecutor) Type() types.TaskType { return types.TaskTypeTCP }

// Capabilities returns what this executor needs.
func (e *TCPExecutor) Capabilities() Capabilities { return Capabilities{} }

// Execute dials the target once and measures connect time.
func (e *TCPExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	host, port, err := splitTarget(task.Target)
	if err != nil {
		return baseResult(task, types.ResultStatusError, 0, err.Error())
	}

	timeout := 10 * time.Second
	if task.Config.TCP != nil && task.Config.TCP.TimeoutSeconds > 0 {
		timeout = time.Duration(task.Config.TCP.TimeoutSeconds) * time.Second
	}

	details := types.TCPDetails{
		Target: task.Target,
		Host:   host,
		Port:   port,
	}

	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	elapsed := time.Since(start)
	details.ConnectTimeMs = float64(elapsed) / float64(time.Millisecond)
	details.ExecutionTimeMs = details.ConnectTimeMs

	if err != nil {
		msg := fmt.Sprintf("connect to %s:%d failed: %v", host, port, err)
		res := baseResult(task, types.ResultStatusFailed, elapsed, msg)
		res.Details = types.MarshalDetails(details)
		return res
	}
	conn.Close()

	details.Connected = true
	res := baseResult(task, types.ResultStatusSuccess, elapsed,
		fmt.Sprintf("connected to %s:%d in %.2fms", host, port, details.ConnectTimeMs))
	res.Details = types.MarshalDetails(details)
	return res
}

// splitTarget parses "host[:port]", defaulting the port to 80.
func splitTarget(target string) (string, int, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", 0, fmt.Errorf("empty tcp target")
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port present (or a bare IPv6 literal).
		return target, defaultTCPPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q in target %q", portStr, target)
	}
	return host, port, nil
}
