package pack

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/goleak"
)

func fsEvent(name string) fsnotify.Event { return fsnotify.Event{Name: name, Op: fsnotify.Write} }

// copyPack copies the subscription pack into a fresh directory.
func copyPack(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	entries, err := os.ReadDir(subscriptionPack)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(subscriptionPack, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const extraProduct = `products:
  - code: HOME
    name: Home insurance
    bindings:
      - kind: eligibility
        rule: age-check
`

// TestLive_ReloadsOnChange verifies a changed pack is rebuilt and swapped in
func TestLive_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := copyPack(t)
	live, err := NewLive(dir, nil, WithClock(clock))
	if err != nil {
		t.Fatalf("NewLive() failed: %v", err)
	}
	first := live.Runtime()
	if _, err := first.Products.Get("HOME"); err == nil {
		t.Fatal("HOME product loaded before it was written")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- live.Watch(ctx, 20*time.Millisecond) }()

	// The watch is set up asynchronously; keep touching the file until the
	// reload shows up.
	deadline := time.Now().Add(5 * time.Second)
	for live.Reloads() == 0 && time.Now().Before(deadline) {
		if err := os.WriteFile(filepath.Join(dir, "home.yaml"), []byte(extraProduct), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if live.Reloads() == 0 {
		t.Fatal("pack was not reloaded")
	}
	if _, err := live.Runtime().Products.Get("HOME"); err != nil {
		t.Errorf("HOME product missing after reload: %v", err)
	}
	if _, err := first.Products.Get("HOME"); err == nil {
		t.Error("reload modified the previous runtime")
	}
}

// TestLive_KeepsRuntimeOnBadReload verifies a broken pack does not replace a working one
func TestLive_KeepsRuntimeOnBadReload(t *testing.T) {
	dir := copyPack(t)
	live, err := NewLive(dir, nil, WithClock(clock))
	if err != nil {
		t.Fatalf("NewLive() failed: %v", err)
	}
	before := live.Runtime()

	broken := "rules:\n  - id: orphan\n    name: Orphan\n    short_name: orphan\n    context: nowhere\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}
	err = live.Reload()
	if err == nil || !strings.Contains(err.Error(), "unknown context") {
		t.Fatalf("Reload() error = %v, want unknown context", err)
	}
	if live.Runtime() != before {
		t.Error("runtime replaced by a broken pack")
	}
	if live.Reloads() != 0 {
		t.Errorf("Reloads() = %d, want 0", live.Reloads())
	}
}

// TestWatcher_IgnoresOtherFiles verifies only pack files are relevant
func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := NewWatcher(subscriptionPack, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.shutdown()

	tests := []struct {
		name string
		file string
		want bool
	}{
		{"yaml", "rules.yaml", true},
		{"yml", "extra.YML", true},
		{"markdown", "README.md", false},
		{"hidden", ".rules.yaml.swp", false},
		{"hidden yaml", ".draft.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.relevant(fsEvent(filepath.Join(subscriptionPack, tt.file))); got != tt.want {
				t.Errorf("relevant(%s) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}
