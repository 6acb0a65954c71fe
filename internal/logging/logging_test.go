package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	sink := Open(Options{Console: &buf})
	defer sink.Close()

	sink.Logger("sync").Printf("pushed %d", 3)

	if !strings.Contains(buf.String(), "[sync] ") || !strings.Contains(buf.String(), "pushed 3") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestSink_FileAndConsole(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "portal.log")
	sink := Open(Options{File: path, MaxSizeMB: 1, Console: &buf})

	sink.Logger("monitor").Print("Connectivity restored")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[monitor] ") {
		t.Errorf("log file missing entry: %q", data)
	}
	if !strings.Contains(buf.String(), "Connectivity restored") {
		t.Errorf("console missing entry: %q", buf.String())
	}
}

func TestSink_Quiet(t *testing.T) {
	var buf bytes.Buffer
	sink := Open(Options{Console: &buf, Quiet: true})
	sink.Logger("store").Print("hidden")

	if buf.Len() != 0 {
		t.Errorf("quiet sink wrote to console: %q", buf.String())
	}
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate() without file = %v", err)
	}
}
