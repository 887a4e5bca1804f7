package redis

import "testing"

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"lock", "sweep"}, "lock:sweep"},
		{"pm", []string{"market", "abc"}, "pm:market:abc"},
		{"pm", nil, "pm"},
	}
	for _, tt := range tests {
		if got := joinKey(tt.prefix, tt.parts...); got != tt.want {
			t.Errorf("joinKey(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestHasPattern(t *testing.T) {
	if hasPattern("market_events") {
		t.Error("plain channel reported as pattern")
	}
	if !hasPattern("stream:market:*") {
		t.Error("glob not detected")
	}
}

func TestPayloadBytes(t *testing.T) {
	if b, ok := payloadBytes("x"); !ok || string(b) != "x" {
		t.Errorf("string payload = %q, %v", b, ok)
	}
	if b, ok := payloadBytes([]byte("y")); !ok || string(b) != "y" {
		t.Errorf("bytes payload = %q, %v", b, ok)
	}
	if _, ok := payloadBytes(42); ok {
		t.Error("int payload accepted")
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if len(slidingWindowLua) == 0 {
		t.Fatal("sliding window script not embedded")
	}
}
