package executor

import "testing"

const linuxPingOutput = `PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.
64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=10.7 ms
64 bytes from 8.8.8.8: icmp_seq=2 ttl=117 time=11.2 ms

--- 8.8.8.8 ping statistics ---
4 packets transmitted, 4 received, 0% packet loss, time 3004ms
rtt min/avg/max/mdev = 10.726/11.434/12.905/0.885 ms
`

const linuxLossOutput = `PING 10.0.0.99 (10.0.0.99) 56(84) bytes of data.

--- 10.0.0.99 ping statistics ---
4 packets transmitted, 0 received, 100% packet loss, time 3060ms
`

const windowsPingOutput = `Pinging 8.8.8.8 with 32 bytes of data:
Reply from 8.8.8.8: bytes=32 time=10ms TTL=117

Ping statistics for 8.8.8.8:
    Packets: Sent = 4, Received = 3, Lost = 1 (25% loss),
Approximate round trip times in milli-seconds:
    Minimum = 10ms, Maximum = 13ms, Average = 11ms
`

func TestParsePingOutput(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantParsed bool
		wantSent   int
		wantRecvd  int
		wantLoss   float64
		wantAvg    float64
	}{
		{"linux success", linuxPingOutput, true, 4, 4, 0, 11.434},
		{"linux total loss", linuxLossOutput, true, 4, 0, 100, 0},
		{"windows partial loss", windowsPingOutput, true, 4, 3, 25, 11},
		{"garbage output", "command not found", false, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, parsed := parsePingOutput(tt.output)
			if parsed != tt.wantParsed {
				t.Fatalf("parsed = %v, want %v", parsed, tt.wantParsed)
			}
			if !parsed {
				return
			}
			if d.PacketsSent != tt.wantSent || d.PacketsRecvd != tt.wantRecvd {
				t.Errorf("packets = %d/%d, want %d/%d", d.PacketsRecvd, d.PacketsSent, tt.wantRecvd, tt.wantSent)
			}
			if d.PacketLossPct != tt.wantLoss {
				t.Errorf("loss = %v, want %v", d.PacketLossPct, tt.wantLoss)
			}
			if d.RTTAvgMs != tt.wantAvg {
				t.Errorf("avg rtt = %v, want %v", d.RTTAvgMs, tt.wantAvg)
			}
		})
	}
}
