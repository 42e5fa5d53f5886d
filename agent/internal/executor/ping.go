// Package executor - ping executor shelling out to the OS ping binary.
//
// # Why the system binary?
//
// Raw ICMP sockets need CAP_NET_RAW; the setuid ping binary works everywhere
// the agent is deployed, including containers without extra capabilities.
//
// # Output Parsing
//
// Linux iputils summary:
//
//	4 packets transmitted, 4 received, 0% packet loss, time 3004ms
//	rtt min/avg/max/mdev = 10.726/11.434/12.905/0.885 ms
//
// Windows summary:
//
//	Packets: Sent = 4, Received = 4, Lost = 0 (0% loss),
//	Minimum = 10ms, Maximum = 13ms, Average = 11ms
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// processTimeout bounds one ping run regardless of packet count.
const processTimeout = 30 * time.Second

var (
	linuxPacketsRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) received, ([\d.]+)% packet loss`)
	linuxRTTRe     = regexp.MustCompile(`rtt min/avg/max/mdev = ([\d.]+)/([\d.]+)/([\d.]+)/[\d.]+ ms`)

	winPacketsRe = regexp.MustCompile(`Sent = (\d+), Received = (\d+), Lost = (\d+)`)
	winRTTRe     = regexp.MustCompile(`Minimum = (\d+)ms, Maximum = (\d+)ms, Average = (\d+)ms`)
)

// PingExecutor probes targets with the system ping binary.
type PingExecutor struct {
	// PingPath overrides the binary path. Default: "ping"
	PingPath string
}

// NewPingExecutor creates a ping executor.
func NewPingExecutor() *PingExecutor {
	return &PingExecutor{PingPath: "ping"}
}

// Type returns the task type this executor handles.
func (e *PingExecutor) Type() types.TaskType { return types.TaskTypePing }

// Capabilities returns what this executor needs.
func (e *PingExecutor) Capabilities() Capabilities {
	return Capabilities{Dependencies: []string{"ping"}}
}

// Execute runs one ping round against the task target.
func (e *PingExecutor) Execute(ctx context.Context, task *types.Task) *types.Result {
	count := 4
	if task.Config.Ping != nil && task.Config.Ping.Count > 0 {
		count = task.Config.Ping.Count
	}

	runCtx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	bin := e.PingPath
	if bin == "" {
		bin = "ping"
	}
	countFlag := "-c"
	if runtime.GOOS == "windows" {
		countFlag = "-n"
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, bin, countFlag, strconv.Itoa(count), task.Target)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return baseResult(task, types.ResultStatusTimeout, elapsed, fmt.Sprintf("ping timed out after %s", processTimeout))
	}

	details, parsed := parsePingOutput(out.String())
	details.Target = task.Target
	details.ExecutionTimeMs = float64(elapsed) / float64(time.Millisecond)

	if !parsed {
		if runErr != nil {
			res := baseResult(task, types.ResultStatusError, elapsed, fmt.Sprintf("ping execution failed: %v", runErr))
			res.Details = types.MarshalDetails(details)
			return res
		}
		res := baseResult(task, types.ResultStatusError, elapsed, "unrecognized ping output")
		res.Details = types.MarshalDetails(details)
		return res
	}

	status := types.ResultStatusFailed
	msg := fmt.Sprintf("%s unreachable, %d/%d packets lost", task.Target, details.PacketsSent-details.PacketsRecvd, details.PacketsSent)
	if details.PacketsRecvd > 0 {
		status = types.ResultStatusSuccess
		msg = fmt.Sprintf("%s reachable, avg rtt %.2fms, %.1f%% loss", task.Target, details.RTTAvgMs, details.PacketLossPct)
	}

	res := baseResult(task, status, elapsed, msg)
	res.Details = types.MarshalDetails(details)
	return res
}

// parsePingOutput handles both the Linux and Windows summary dialects.
// The second return is false when neither packet summary is present.
func parsePingOutput(out string) (types.PingDetails, bool) {
	var d types.PingDetails

	if m := linuxPacketsRe.FindStringSubmatch(out); m != nil {
		d.PacketsSent, _ = strconv.Atoi(m[1])
		d.PacketsRecvd, _ = strconv.Atoi(m[2])
		d.PacketLossPct, _ = strconv.ParseFloat(m[3], 64)
		if rtt := linuxRTTRe.FindStringSubmatch(out); rtt != nil {
			d.RTTMinMs, _ = strconv.ParseFloat(rtt[1], 64)
			d.RTTAvgMs, _ = strconv.ParseFloat(rtt[2], 64)
			d.RTTMaxMs, _ = strconv.ParseFloat(rtt[3], 64)
		}
		return d, true
	}

	if m := winPacketsRe.FindStringSubmatch(out); m != nil {
		d.PacketsSent, _ = strconv.Atoi(m[1])
		d.PacketsRecvd, _ = strconv.Atoi(m[2])
		lost, _ := strconv.Atoi(m[3])
		if d.PacketsSent > 0 {
			d.PacketLossPct = float64(lost) / float64(d.PacketsSent) * 100.0
		}
		if rtt := winRTTRe.FindStringSubmatch(out); rtt != nil {
			d.RTTMinMs, _ = strconv.ParseFloat(rtt[1], 64)
			d.RTTMaxMs, _ = strconv.ParseFloat(rtt[2], 64)
			d.RTTAvgMs, _ = strconv.ParseFloat(rtt[3], 64)
		}
		return d, true
	}

	return d, false
}
