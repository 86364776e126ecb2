package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("PORTFOLIOCHAT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("PORTFOLIOCHAT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Second},
		{"250ms", 250 * time.Millisecond},
		{" 2s ", 2 * time.Second},
		{"0s", 0},
		{"-1s", time.Second},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("PORTFOLIOCHAT_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("PORTFOLIOCHAT_TEST_DURATION", time.Second); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("PORTFOLIOCHAT_TEST_STRING", "  ")
	if got := GetEnvOrDefault("PORTFOLIOCHAT_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for blank value, got %q", got)
	}
	t.Setenv("PORTFOLIOCHAT_TEST_STRING", " value ")
	if got := GetEnvOrDefault("PORTFOLIOCHAT_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("expected trimmed value, got %q", got)
	}
}
