package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rescale/transfer-sync/internal/config"
)

func TestAddCommands(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	want := []string{"serve", "watch", "status", "enqueue", "cancel", "remove", "clear-failed", "clear-history", "config"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("command %q not registered", name)
		}
	}

	if cmd, _, err := root.Find([]string{"rm"}); err != nil || cmd.Name() != "remove" {
		t.Error("alias rm should resolve to remove")
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := promptYesNo(strings.NewReader(tt.input), &out, "Proceed?")
		if err != nil {
			t.Fatalf("promptYesNo(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("promptYesNo(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Proceed? [y/N]") {
			t.Errorf("prompt not written, got %q", out.String())
		}
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	t.Run("url implies http", func(t *testing.T) {
		withGlobalFlags(t, "", "", "", "http://engine:7490")
		cfg := config.New()
		applyFlagOverrides(cfg)
		if cfg.Backend.Transport != config.TransportHTTP {
			t.Errorf("Transport = %q, want http", cfg.Backend.Transport)
		}
		if cfg.Backend.BaseURL != "http://engine:7490" {
			t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
		}
	})

	t.Run("explicit transport wins", func(t *testing.T) {
		withGlobalFlags(t, "", config.TransportIPC, "/tmp/x.sock", "http://engine:7490")
		cfg := config.New()
		applyFlagOverrides(cfg)
		if cfg.Backend.Transport != config.TransportIPC {
			t.Errorf("Transport = %q, want ipc", cfg.Backend.Transport)
		}
		if cfg.Backend.SocketPath != "/tmp/x.sock" {
			t.Errorf("SocketPath = %q", cfg.Backend.SocketPath)
		}
	})

	t.Run("no flags", func(t *testing.T) {
		withGlobalFlags(t, "", "", "", "")
		cfg := config.New()
		applyFlagOverrides(cfg)
		if got := config.New(); cfg.Backend != got.Backend {
			t.Errorf("Backend changed without flags: %+v", cfg.Backend)
		}
	})
}

func TestNewBackendsRejectsUnknownTransport(t *testing.T) {
	cfg := config.New()
	cfg.Backend.Transport = "carrier-pigeon"
	if _, err := newBackends(cfg); err == nil {
		t.Error("expected an error for an unknown transport")
	}
}
