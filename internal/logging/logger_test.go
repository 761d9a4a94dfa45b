package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "explicit debug config",
			config: &Config{
				Level:  LevelDebug,
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("drilling region", "rank", 0, "region_start", 0x1000)
	logger.Info("region published", "rank", 0, "key_owner", 1, "key_local", 0x123)
	if buf.Len() != 0 {
		t.Errorf("expected debug/info below LevelWarn to be suppressed, got: %s", buf.String())
	}

	logger.Warn("broker connection retrying", "job_id", "mmpi-demo", "attempt", 3)
	output := buf.String()
	if !strings.Contains(output, "job_id=mmpi-demo") {
		t.Errorf("expected job_id=mmpi-demo in output, got: %s", output)
	}
	if !strings.Contains(output, "attempt=3") {
		t.Errorf("expected attempt=3 in output, got: %s", output)
	}
}

func TestLoggerKeyValueFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("region invalidated", "rank", 2, "region_start", 0x4000, "region_end", 0x8000)
	output := buf.String()
	for _, want := range []string{"[INFO]", "region invalidated", "rank=2", "region_start=16384", "region_end=32768"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLoggerErrorWithFormattedArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("rank %d: publish segment descriptor: %v", 0, "connect refused")
	output := buf.String()
	if !strings.Contains(output, "rank 0: publish segment descriptor: connect refused") {
		t.Errorf("expected formatted error message, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("joined job", "rank", 0, "nprocs", 4)
	if output := buf.String(); !strings.Contains(output, "rank=0") || !strings.Contains(output, "nprocs=4") {
		t.Errorf("expected rank=0 nprocs=4 in output, got: %s", output)
	}

	buf.Reset()
	Info("barrier complete", "rank", 1)
	if output := buf.String(); !strings.Contains(output, "barrier complete") {
		t.Errorf("expected barrier complete, got: %s", output)
	}

	buf.Reset()
	Warn("free-queue exhausted", "rank", 1)
	if output := buf.String(); !strings.Contains(output, "free-queue exhausted") {
		t.Errorf("expected free-queue exhausted, got: %s", output)
	}

	buf.Reset()
	Error("driller init failed", "rank", 0, "error", "mmap: out of memory")
	if output := buf.String(); !strings.Contains(output, "driller init failed") {
		t.Errorf("expected driller init failed, got: %s", output)
	}
}
