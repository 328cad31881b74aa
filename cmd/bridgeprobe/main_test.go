package main

import "testing"

func TestProbeWSURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":   "ws://127.0.0.1:8080/api/v1/rt/chat",
		"https://bridge.internal": "wss://bridge.internal/api/v1/rt/chat",
		"http://host:8080/base/":  "ws://host:8080/base/api/v1/rt/chat",
	}
	for in, want := range cases {
		got, err := probeWSURL(in)
		if err != nil {
			t.Fatalf("probeWSURL(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("probeWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProbeWSURLRejectsBadScheme(t *testing.T) {
	if _, err := probeWSURL("ftp://host"); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}
