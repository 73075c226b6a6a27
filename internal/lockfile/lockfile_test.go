package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "poll")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	f, err := os.Open(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Lock file was not created: %v", err)
	}
	defer f.Close()
	h := parseHolder(f)
	if h.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", h.PID, os.Getpid())
	}
	if h.Mode != "poll" {
		t.Errorf("Mode = %q, want poll", h.Mode)
	}
	if h.Started == "" {
		t.Error("Started should be recorded")
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir, "poll")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir, "poll")
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("Holder PID = %d, want %d", lockErr.Holder.PID, os.Getpid())
	}
	msg := err.Error()
	if !strings.Contains(msg, "another ContactPipe instance") {
		t.Errorf("Error should mention the other instance: %s", msg)
	}
	if !strings.Contains(msg, dir) {
		t.Errorf("Error should contain the lock path: %s", msg)
	}
	if !strings.Contains(msg, "(running)") {
		t.Errorf("Error should report the holder as running: %s", msg)
	}

	// The failed attempt must not clobber the holder's information.
	f, err := os.Open(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if h := parseHolder(f); h.PID != os.Getpid() {
		t.Errorf("Lock info was overwritten: %+v", h)
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	lock, err := AcquireLock(dir, "poll")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir, "poll")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	again.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := AcquireLock(dir, "poll")
	if err != nil {
		t.Fatalf("Should create the directory and lock it: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Holder
	}{
		{"full", "pid=12345\nmode=poll\nstarted=2025-03-01T09:00:00Z\n", Holder{PID: 12345, Mode: "poll", Started: "2025-03-01T09:00:00Z"}},
		{"pid only", "pid=67890", Holder{PID: 67890}},
		{"invalid pid", "pid=abc\nmode=poll", Holder{Mode: "poll"}},
		{"no equals", "pid12345", Holder{}},
		{"empty", "", Holder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHolder(strings.NewReader(tt.content))
			if got != tt.want {
				t.Errorf("parseHolder(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestHolderString(t *testing.T) {
	if got := (Holder{}).String(); got != "unknown process" {
		t.Errorf("empty holder = %q", got)
	}
	got := Holder{PID: os.Getpid(), Mode: "poll"}.String()
	if !strings.Contains(got, "(running)") || !strings.HasSuffix(got, "mode poll") {
		t.Errorf("holder string = %q", got)
	}
}
