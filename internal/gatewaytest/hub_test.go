package gatewaytest

import "testing"

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub()

	hub.Add("chat", nil)
	if hub.Count("chat") != 1 {
		t.Fatalf("expected chat connection to be tracked")
	}
	if hub.Count("notify") != 0 {
		t.Fatalf("expected notify kind to stay empty")
	}

	hub.Remove("chat", nil)
	if hub.Count("chat") != 0 {
		t.Fatalf("expected chat connection to be removed")
	}
}
