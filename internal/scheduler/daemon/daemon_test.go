package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/langboard/botengine/internal/scheduler/crontab"
)

func managed(interval, comment string) string {
	return crontab.Job{Interval: interval, Command: crontab.Command("", comment), Comment: comment}.String() + "\n"
}

func TestReloadTracksManagedLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := crontab.NewMemoryStore(
		"MAILTO=\"\"\n" +
			"0 3 * * * /usr/bin/backup # nightly\n" +
			managed("*/5 * * * *", "*/5 * * * *") +
			managed("30 14 * * *", "scheduled 30 14 * * *"),
	)
	d := New(Config{}, store, func(context.Context, string) error { return nil })

	if err := d.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got := d.Entries()
	if len(got) != 2 || got["*/5 * * * *"] != "*/5 * * * *" || got["scheduled 30 14 * * *"] != "30 14 * * *" {
		t.Fatalf("entries = %v", got)
	}

	err := store.Update(ctx, func(c *crontab.Cron) error {
		c.RemoveJob("scheduled 30 14 * * *")
		c.AddJob("30 14 * * *", crontab.Command("", "30 14 * * *"), "30 14 * * *")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got = d.Entries()
	if len(got) != 2 || got["30 14 * * *"] != "30 14 * * *" {
		t.Fatalf("entries after reload = %v", got)
	}
	if _, ok := got["scheduled 30 14 * * *"]; ok {
		t.Fatal("removed line still registered")
	}
	if n := len(d.cron.Entries()); n != 2 {
		t.Fatalf("cron entries = %d, want 2", n)
	}
}

func TestWatchReloadsOnSave(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crontab")
	store := crontab.NewFileStore(path)
	d := New(Config{WatchPath: path, Debounce: 20 * time.Millisecond}, store, func(context.Context, string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// let the watcher attach before writing
	time.Sleep(100 * time.Millisecond)
	err := store.Update(ctx, func(c *crontab.Cron) error {
		c.AddJob("0 9 * * *", crontab.Command("", "0 9 * * *"), "0 9 * * *")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.Entries()["0 9 * * *"]; ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("entries = %v, want the saved line", d.Entries())
}
