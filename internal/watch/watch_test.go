package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsWatchedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "prog.json")
	other := filepath.Join(dir, "other.json")
	if err := os.WriteFile(watched, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New([]string{watched}, 20*time.Millisecond, nil)
	if err != nil {
		t.Skip("fsnotify unavailable:", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan []string, 4)
	go w.Run(ctx, func(changed []string) { got <- changed })

	if err := os.WriteFile(other, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(watched, []byte(`{"n":1}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	abs, _ := filepath.Abs(watched)
	select {
	case changed := <-got:
		if len(changed) != 1 || changed[0] != abs {
			t.Errorf("changed = %v, want [%s]", changed, abs)
		}
	case <-ctx.Done():
		t.Fatal("no change reported")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "x.json")}, 0, nil)
	if err != nil {
		t.Skip("fsnotify unavailable:", err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, func([]string) { t.Error("unexpected change") }); err != context.Canceled {
		t.Errorf("err = %v", err)
	}
}
