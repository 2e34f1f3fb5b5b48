package logging_test

import (
	"testing"

	"github.com/jmerrifield20/chronochain/internal/logging"
	"go.uber.org/zap/zapcore"
)

func TestNew_levels(t *testing.T) {
	tests := []struct {
		verbose bool
		level   string
		format  string
		debug   bool
		info    bool
	}{
		{verbose: true, level: "error", debug: true, info: true},
		{level: "", format: "console", debug: false, info: true},
		{level: "warn", format: "json", debug: false, info: false},
		{level: "DEBUG", debug: true, info: true},
	}
	for _, tt := range tests {
		logger, err := logging.New(tt.verbose, tt.level, tt.format)
		if err != nil {
			t.Fatalf("New(%v, %q, %q): %v", tt.verbose, tt.level, tt.format, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("New(%v, %q): debug enabled = %v, want %v", tt.verbose, tt.level, got, tt.debug)
		}
		if got := logger.Core().Enabled(zapcore.InfoLevel); got != tt.info {
			t.Errorf("New(%v, %q): info enabled = %v, want %v", tt.verbose, tt.level, got, tt.info)
		}
	}
}

func TestNew_invalid(t *testing.T) {
	if _, err := logging.New(false, "loud", ""); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := logging.New(false, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOrNop(t *testing.T) {
	if logging.OrNop(nil) == nil {
		t.Error("OrNop(nil) returned nil")
	}
}
