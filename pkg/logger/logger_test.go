package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := New(tt.in, "json").GetLevel(); got != tt.want {
				t.Fatalf("level=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, "info", "json"), "risk")
	log.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"risk"`) {
		t.Fatalf("missing component field: %s", buf.String())
	}
}
