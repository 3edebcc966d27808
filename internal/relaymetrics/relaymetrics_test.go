package relaymetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPollerOnlyAddsDeltas(t *testing.T) {
	p := NewPoller()

	p.Observe(Snapshot{BytesSent: 100, PacketsSent: 2}, 1)
	if got := testutil.ToFloat64(bytesSent); got != 100 {
		t.Fatalf("bytesSent after first observe = %v, want 100", got)
	}

	p.Observe(Snapshot{BytesSent: 150, PacketsSent: 3}, 2)
	if got := testutil.ToFloat64(bytesSent); got != 150 {
		t.Fatalf("bytesSent after second observe = %v, want 150 (cumulative)", got)
	}
	if got := testutil.ToFloat64(packetsSent); got != 3 {
		t.Fatalf("packetsSent = %v, want 3", got)
	}
	if got := testutil.ToFloat64(peersPresent); got != 2 {
		t.Fatalf("peersPresent = %v, want 2", got)
	}
}

func TestSetHandshakeStateIsOneHot(t *testing.T) {
	states := []string{"Initial", "Complete", "Failed"}
	SetHandshakeState("Complete", states)

	if got := testutil.ToFloat64(handshakeState.WithLabelValues("Complete")); got != 1 {
		t.Fatalf("Complete gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(handshakeState.WithLabelValues("Initial")); got != 0 {
		t.Fatalf("Initial gauge = %v, want 0", got)
	}
}
