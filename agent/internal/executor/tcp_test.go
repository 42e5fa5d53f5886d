package executor

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"

	"github.com/probenet-io/probenet/pkg/types"
)

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		target   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"example.com:443", "example.com", 443, false},
		{"example.com", "example.com", 80, false},
		{"10.0.0.1:22", "10.0.0.1", 22, false},
		{"10.0.0.1", "10.0.0.1", 80, false},
		{"host:notaport", "", 0, true},
		{"host:70000", "", 0, true},
		{"", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			host, port, err := splitTarget(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitTarget(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("splitTarget(%q) = %s:%d, want %s:%d", tt.target, host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestTCPExecuteAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	task := &types.Task{
		ID:     1,
		Type:   types.TaskTypeTCP,
		Target: ln.Addr().String(),
		Config: types.DecodeTaskConfig(types.TaskTypeTCP, nil),
	}

	result := NewTCPExecutor().Execute(context.Background(), task)
	if result.Status != types.ResultStatusSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}

	var details types.TCPDetails
	if err := json.Unmarshal(result.Details, &details); err != nil {
		t.Fatal(err)
	}
	if !details.Connected {
		t.Error("details.Connected should be true")
	}
	if details.ConnectTimeMs < 0 {
		t.Errorf("connect time must be non-negative, got %v", details.ConnectTimeMs)
	}
}

func TestTCPExecuteConnectionRefused(t *testing.T) {
	// Grab a free port and close it so the connect is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	task := &types.Task{
		ID:     2,
		Type:   types.TaskTypeTCP,
		Target: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Config: types.DecodeTaskConfig(types.TaskTypeTCP, json.RawMessage(`{"timeout": 2}`)),
	}

	result := NewTCPExecutor().Execute(context.Background(), task)
	if result.Status != types.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}
