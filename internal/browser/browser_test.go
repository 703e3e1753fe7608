package browser

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJitterDurationBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitterDuration(time.Second, 500*time.Millisecond)
		if d < time.Second || d >= 1500*time.Millisecond {
			t.Fatalf("jittered duration %v out of [1s, 1.5s)", d)
		}
	}
	if d := jitterDuration(time.Second, 0); d != time.Second {
		t.Fatalf("zero jitter should return base, got %v", d)
	}
}

func TestPauseHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pause(ctx, time.Hour, 0); err == nil {
		t.Fatal("cancelled context should abort the pause")
	}
}

func TestInsideRoot(t *testing.T) {
	cases := []struct {
		root, dir string
		want      bool
	}{
		{"/tmp", "/tmp/jogi-profile-1", true},
		{"/tmp", "/tmp/a/b", true},
		{"/tmp", "/tmp", false},
		{"/tmp", "/tmp/../etc", false},
		{"/tmp", "/etc/passwd", false},
		{"/tmp/root", "/tmp/rootkit", false},
	}
	for _, tc := range cases {
		if got := insideRoot(tc.root, tc.dir); got != tc.want {
			t.Errorf("insideRoot(%q, %q) = %v, want %v", tc.root, tc.dir, got, tc.want)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	root := t.TempDir()
	profile, err := os.MkdirTemp(root, "jogi-profile-")
	if err != nil {
		t.Fatal(err)
	}

	cancelled := 0
	sess := &Session{
		cancels:  []context.CancelFunc{func() { cancelled++ }},
		profile:  profile,
		tempRoot: root,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	sess.Close()
	sess.Close()

	if cancelled != 1 {
		t.Fatalf("cancel ran %d times, want 1", cancelled)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Fatal("profile directory should have been removed")
	}
}

func TestCloseRefusesDirOutsideTempRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	victim := filepath.Join(outside, "keep")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatal(err)
	}

	sess := &Session{
		cancels:  []context.CancelFunc{func() {}},
		profile:  victim,
		tempRoot: root,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	sess.Close()

	if _, err := os.Stat(victim); err != nil {
		t.Fatal("directory outside the temp root must never be deleted")
	}
}

func TestPopupCloseKeepsParentProfile(t *testing.T) {
	root := t.TempDir()
	profile, err := os.MkdirTemp(root, "jogi-profile-")
	if err != nil {
		t.Fatal(err)
	}

	popup := &Session{
		cancels:  []context.CancelFunc{func() {}},
		profile:  profile,
		tempRoot: root,
		popup:    true,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	popup.Close()

	if _, err := os.Stat(profile); err != nil {
		t.Fatal("popup close must not remove the shared profile")
	}
}

func TestSnapshotDirAndAwaitSkip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := snapshotDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := before["existing.pdf"]; !ok {
		t.Fatal("snapshot missed existing file")
	}
}
