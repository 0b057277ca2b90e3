package common

import (
	"bytes"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"os"
	"strings"
	"testing"
)

// TestLoggerOrigin tests the origin prefix of single process servers and prefork workers
func TestLoggerOrigin(t *testing.T) {
	testCases := []struct {
		name     string
		workerID string
		expected string
	}{
		{"Standalone", "", fmt.Sprintf("[%d] WARN  | ipc/test        | disk full", os.Getpid())},
		{"Worker", "2", fmt.Sprintf("[%d w2] WARN  | ipc/test        | disk full", os.Getpid())},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvWorkerID, tc.workerID)

			var buf bytes.Buffer
			l := newLogger("ipc/test", &buf)
			l.Warningf("disk %s", "full")

			line := strings.TrimSuffix(buf.String(), "\n")
			if !strings.HasSuffix(line, tc.expected) {
				t.Errorf("Expected line ending in %q, got %q", tc.expected, line)
			}
		})
	}
}

// TestLoggerLevels tests level filtering and the message counters
func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("ipc/test", &buf)
	l.SetLevel(logger.WARNING)

	errorsBefore := logLevels[logger.ERROR].counter.Get()
	infosBefore := logLevels[logger.INFO].counter.Get()

	l.Debugf("hidden")
	l.Infof("hidden")
	l.Errorf("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected messages below WARN to be dropped, got %q", out)
	}
	if !strings.Contains(out, "ERROR | ipc/test        | shown") {
		t.Errorf("Expected the error line, got %q", out)
	}
	if got := logLevels[logger.ERROR].counter.Get() - errorsBefore; got != 1 {
		t.Errorf("Expected 1 counted error message, got %d", got)
	}
	if got := logLevels[logger.INFO].counter.Get() - infosBefore; got != 0 {
		t.Errorf("Expected dropped messages not to be counted, got %d", got)
	}
}

// TestLoggerPanic tests that Panicf logs before it panics
func TestLoggerPanic(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("ipc/test", &buf)
	l.SetLevel(logger.ERROR)

	defer func() {
		r := recover()
		if r != "broken invariant 7" {
			t.Errorf("Expected panic with the message, got %v", r)
		}
		if !strings.Contains(buf.String(), "PANIC | ipc/test        | broken invariant 7") {
			t.Errorf("Expected the panic to be logged, got %q", buf.String())
		}
	}()

	l.Panicf("broken invariant %d", 7)
}

// TestParseLogLevel tests the accepted level names
func TestParseLogLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected logger.LogLevel
		wantErr  bool
	}{
		{"debug", logger.DEBUG, false},
		{"", logger.INFO, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}

	for _, tc := range testCases {
		level, err := ParseLogLevel(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
		}
		if level != tc.expected {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", tc.input, level, tc.expected)
		}
	}
}
