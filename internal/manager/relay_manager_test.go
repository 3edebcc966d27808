package manager

import "testing"

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	m := NewRelayManager()
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := m.GetStatus().State; got != "disconnected" {
		t.Fatalf("state = %q, want disconnected", got)
	}
}

func TestGetStatusReturnsCopy(t *testing.T) {
	m := NewRelayManager()
	s1 := m.GetStatus()
	s1.State = "connected"

	s2 := m.GetStatus()
	if s2.State != "disconnected" {
		t.Fatalf("mutating a returned status leaked into manager state: %q", s2.State)
	}
}
