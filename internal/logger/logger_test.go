package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("error")
	if Get().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("Expected warn to be disabled at error level")
	}

	SetLevel("debug")
	if !Get().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug to be enabled at debug level")
	}
}
