// Package daemon drives the runner from the crontab file itself, for hosts
// without a system cron.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/langboard/botengine/internal/scheduler/crontab"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// FireFunc runs one firing of a crontab comment.
type FireFunc func(ctx context.Context, comment string) error

type Config struct {
	// ScriptPath selects the managed lines; others belong to someone else.
	ScriptPath string
	// WatchPath is the crontab file to watch; empty disables reloads.
	WatchPath string
	Debounce  time.Duration
}

type entry struct {
	id       cron.EntryID
	interval string
}

type Daemon struct {
	cfg   Config
	store crontab.Store
	fire  FireFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry
	runCtx  context.Context
}

func New(cfg Config, store crontab.Store, fire FireFunc) *Daemon {
	if cfg.ScriptPath == "" {
		cfg.ScriptPath = crontab.DefaultScriptPath
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	return &Daemon{
		cfg:     cfg,
		store:   store,
		fire:    fire,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger{}))),
		entries: make(map[string]entry),
		runCtx:  context.Background(),
	}
}

// Reload syncs the registered entries with the managed crontab lines.
func (d *Daemon) Reload(ctx context.Context) error {
	c, err := d.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load crontab: %w", err)
	}

	wanted := make(map[string]string)
	prefix := d.cfg.ScriptPath + " "
	for _, job := range c.Jobs() {
		if strings.HasPrefix(job.Command, prefix) {
			wanted[job.Comment] = job.Interval
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var added, removed int
	for comment, e := range d.entries {
		if interval, ok := wanted[comment]; ok && interval == e.interval {
			continue
		}
		d.cron.Remove(e.id)
		delete(d.entries, comment)
		removed++
	}
	for comment, interval := range wanted {
		if _, ok := d.entries[comment]; ok {
			continue
		}
		comment := comment
		id, err := d.cron.AddFunc(interval, func() { d.run(comment) })
		if err != nil {
			log.Warn().Err(err).Str("comment", comment).Msg("Skipping unparsable crontab line")
			continue
		}
		d.entries[comment] = entry{id: id, interval: interval}
		added++
	}

	if added > 0 || removed > 0 {
		log.Info().Int("added", added).Int("removed", removed).Int("entries", len(d.entries)).Msg("Cron daemon reloaded")
	}
	return nil
}

// Entries maps each registered comment to its interval.
func (d *Daemon) Entries() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.entries))
	for comment, e := range d.entries {
		out[comment] = e.interval
	}
	return out
}

// Run starts the cron loop and blocks until ctx is done. Running firings
// are waited for before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()

	if err := d.Reload(ctx); err != nil {
		return err
	}
	d.cron.Start()
	log.Info().Int("entries", len(d.Entries())).Msg("Cron daemon started")

	var err error
	if d.cfg.WatchPath != "" {
		err = d.watch(ctx)
	} else {
		<-ctx.Done()
	}

	<-d.cron.Stop().Done()
	log.Info().Msg("Cron daemon stopped")
	return err
}

func (d *Daemon) run(comment string) {
	d.mu.Lock()
	ctx := d.runCtx
	d.mu.Unlock()
	if err := d.fire(ctx, comment); err != nil {
		log.Error().Err(err).Str("comment", comment).Msg("Cron firing failed")
	}
}

func (d *Daemon) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// the store replaces the file by rename, so watch its directory
	if err := w.Add(filepath.Dir(d.cfg.WatchPath)); err != nil {
		return fmt.Errorf("watch %s: %w", d.cfg.WatchPath, err)
	}
	file := filepath.Base(d.cfg.WatchPath)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(d.cfg.Debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := d.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("Crontab reload failed")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", d.cfg.WatchPath).Msg("Crontab watcher error")
		}
	}
}

// cronLogger routes robfig/cron logs to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
