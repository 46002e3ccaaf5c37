package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/anthonian/aura-gateway/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantErr   bool
		wantJSON  bool
		wantDebug bool
	}{
		{name: "text info", cfg: config.LoggingConfig{Level: "info", Format: "text"}},
		{name: "json debug", cfg: config.LoggingConfig{Level: "debug", Format: "json"}, wantJSON: true, wantDebug: true},
		{name: "upper case level", cfg: config.LoggingConfig{Level: "WARN", Format: "text"}},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud", Format: "text"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.cfg, &buf)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}

			logger.Error("probe", "key", "value")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v: %s", got, tt.wantJSON, buf.String())
			}
		})
	}
}
