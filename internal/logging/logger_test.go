package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("queue", &buf)
	l.Info().Str("kind", "download").Msg("snapshot installed")

	out := buf.String()
	if !strings.Contains(out, "snapshot installed") {
		t.Errorf("message missing from output: %q", out)
	}
	if !strings.Contains(out, "component=") || !strings.Contains(out, "queue") {
		t.Errorf("component field missing from output: %q", out)
	}

	buf.Reset()
	l.Named("poller").Warnf("tick %d failed", 3)
	if !strings.Contains(buf.String(), "poller") || !strings.Contains(buf.String(), "tick 3 failed") {
		t.Errorf("child logger output unexpected: %q", buf.String())
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	l := NewNopLogger()
	l.Error().Msg("nothing")
	l.Named("x").Info().Msg("still nothing")
	if l.Component() != "" {
		t.Errorf("nop logger component = %q", l.Component())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
