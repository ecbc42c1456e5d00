package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_StderrAndFile(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "todomd.log")

	sink, err := Open(Options{File: path, MaxSizeMB: 1, Stderr: &stderr})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	sink.Logger("feed").Printf("client %s connected", "c-1")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	for name, got := range map[string]string{"stderr": stderr.String(), "file": string(data)} {
		if !strings.Contains(got, "[feed] ") || !strings.Contains(got, "client c-1 connected") {
			t.Errorf("%s = %q, want prefixed line", name, got)
		}
	}

	if err := sink.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestSink_Quiet(t *testing.T) {
	var stderr bytes.Buffer
	sink, err := Open(Options{Quiet: true, Stderr: &stderr})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer sink.Close()

	sink.Logger("store").Println("hidden")
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want nothing", stderr.String())
	}
}

func TestDiscard(t *testing.T) {
	Discard().Println("nothing")
}
