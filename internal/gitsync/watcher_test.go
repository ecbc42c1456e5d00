package gitsync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/natefinch/atomic"
)

func startWatcher(t *testing.T, path string) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(path); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	return fw
}

func waitEvent(t *testing.T, fw *FileWatcher, want EventOp) FileEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-fw.Events():
			if !ok {
				t.Fatal("Events() closed")
			}
			if ev.Op == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for %v event", want)
		}
	}
}

func TestFileWatcher_StartTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TODO.shadow.md")
	fw := startWatcher(t, path)

	if err := fw.Start(path); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestFileWatcher_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow", "nested", "TODO.shadow.md")
	startWatcher(t, path)

	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("parent directory not created: %v", err)
	}
}

func TestFileWatcher_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TODO.shadow.md")
	fw := startWatcher(t, path)

	if err := os.WriteFile(path, []byte("# Tasks\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	ev := waitEvent(t, fw, OpWrite)
	if filepath.Base(ev.Path) != "TODO.shadow.md" {
		t.Errorf("Path = %s, want TODO.shadow.md", ev.Path)
	}
}

func TestFileWatcher_AtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TODO.shadow.md")
	if err := os.WriteFile(path, []byte("# Tasks\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	fw := startWatcher(t, path)

	for i := 0; i < 2; i++ {
		if err := atomic.WriteFile(path, strings.NewReader("# Tasks\n\n## [T-1] One\n")); err != nil {
			t.Fatalf("atomic.WriteFile() failed: %v", err)
		}
		waitEvent(t, fw, OpWrite)
	}
}

func TestFileWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TODO.shadow.md")
	fw := startWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "other.md"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	select {
	case ev := <-fw.Events():
		t.Errorf("unexpected event for sibling file: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileWatcher_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TODO.shadow.md")
	if err := os.WriteFile(path, []byte("# Tasks\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	fw := startWatcher(t, path)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	waitEvent(t, fw, OpRemove)
}

func TestFileWatcher_StopClosesChannels(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(filepath.Join(t.TempDir(), "TODO.shadow.md")); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}

	if _, ok := <-fw.Events(); ok {
		t.Error("Events() still open after Stop()")
	}
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpWrite, "write"},
		{OpReplace, "replace"},
		{OpRemove, "remove"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
