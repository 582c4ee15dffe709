package main

import "testing"

func TestTarget(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		expected string
	}{
		{"default", "", "", "http://localhost:8080/readyz"},
		{"port only", "", ":9000", "http://localhost:9000/readyz"},
		{"host and port", "", "127.0.0.1:9000", "http://127.0.0.1:9000/readyz"},
		{"override", "http://backend:8080/healthz", ":9000", "http://backend:8080/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HEALTHCHECK_URL", tt.url)
			t.Setenv("HTTP_ADDR", tt.addr)
			if got := target(); got != tt.expected {
				t.Errorf("target() = %q, want %q", got, tt.expected)
			}
		})
	}
}
