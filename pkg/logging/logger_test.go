package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.Service == "" {
		t.Error("Expected a default service name")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, %v; want %q, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		logAt     func(zerolog.Logger) *zerolog.Event
		wantLines bool
	}{
		{"info logged at info", LevelInfo, func(l zerolog.Logger) *zerolog.Event { return l.Info() }, true},
		{"debug logged at debug", LevelDebug, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, true},
		{"debug suppressed at info", LevelInfo, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, false},
		{"warn suppressed at error", LevelError, func(l zerolog.Logger) *zerolog.Event { return l.Warn() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf, Service: "test"})
			defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

			tt.logAt(logger).Msg("hello")

			if got := strings.Contains(buf.String(), "hello"); got != tt.wantLines {
				t.Errorf("output %q contains message = %v, want %v", buf.String(), got, tt.wantLines)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, Service: "catalog"})

	logger := NewLogger("cache")
	logger.Info().Msg("component test")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "cache" {
		t.Errorf("component = %v, want cache", entry["component"])
	}
	if entry["service"] != "catalog" {
		t.Errorf("service = %v, want catalog", entry["service"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}

	log.Logger = zerolog.Nop()
}
