package uvchost

import "testing"

func TestParseDebugLevel(t *testing.T) {
	tests := []struct {
		in   string
		want DebugLevel
	}{
		{"none", DebugNone},
		{"0", DebugNone},
		{"error", DebugError},
		{"1", DebugError},
		{"warn", DebugWarn},
		{"warning", DebugWarn},
		{"info", DebugInfo},
		{"3", DebugInfo},
		{"verbose", DebugVerbose},
		{"4", DebugVerbose},
		{"trace", DebugTrace},
		{"5", DebugTrace},
		{"", DebugInfo},
		{"bogus", DebugInfo},
		{"  INFO  ", DebugInfo},
	}
	for _, tt := range tests {
		if got := ParseDebugLevel(tt.in); got != tt.want {
			t.Errorf("ParseDebugLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("DEBUG_LEVEL", "trace")
	t.Setenv("SAFE_MODE", "1")
	t.Setenv("DISABLE_HIGH_BANDWIDTH", "yes")
	t.Setenv("FORCE_HIGH_BANDWIDTH", "0")

	cfg := LoadConfig()
	if cfg.DebugLevel != DebugTrace {
		t.Errorf("DebugLevel = %v, want trace", cfg.DebugLevel)
	}
	if !cfg.SafeMode {
		t.Error("SafeMode not picked up")
	}
	if !cfg.DisableHighBandwidth {
		t.Error("DISABLE_HIGH_BANDWIDTH=yes not picked up")
	}
	if cfg.ForceHighBandwidth {
		t.Error("FORCE_HIGH_BANDWIDTH=0 read as enabled")
	}
}
