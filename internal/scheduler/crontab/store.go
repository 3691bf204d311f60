package crontab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
)

var ErrCronIO = errors.New("crontab io error")

// Store persists the crontab. Update holds an exclusive lock across load,
// mutate and save; FindByComment only takes a shared one.
type Store interface {
	Load(ctx context.Context) (*Cron, error)
	Save(ctx context.Context, cron *Cron) error
	FindByComment(ctx context.Context, comment string) (Job, bool, error)
	Update(ctx context.Context, fn func(*Cron) error) error
}

// FileStore keeps the crontab in a file, locked against other goroutines
// with a mutex and against other processes with a lock file.
type FileStore struct {
	path           string
	installCommand []string
	retryDelay     time.Duration

	mu       sync.RWMutex
	lockPath string
}

type FileStoreOption func(*FileStore)

// WithInstallCommand runs command with the crontab path appended after each
// save, e.g. "crontab" to hand the file to the system cron daemon.
func WithInstallCommand(command string) FileStoreOption {
	return func(s *FileStore) {
		s.installCommand = strings.Fields(command)
	}
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:       path,
		retryDelay: 20 * time.Millisecond,
		lockPath:   path + ".lock",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (*Cron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release(lock)
	return s.read()
}

func (s *FileStore) Save(ctx context.Context, cron *Cron) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release(lock)
	return s.write(ctx, cron)
}

func (s *FileStore) FindByComment(ctx context.Context, comment string) (Job, bool, error) {
	cron, err := s.Load(ctx)
	if err != nil {
		return Job{}, false, err
	}
	job, ok := cron.FindByComment(comment)
	return job, ok, nil
}

func (s *FileStore) Update(ctx context.Context, fn func(*Cron) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release(lock)

	cron, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(cron); err != nil {
		return err
	}
	if !cron.Mutated() {
		return nil
	}
	return s.write(ctx, cron)
}

// acquire takes the cross-process lock. Each holder gets its own handle so
// concurrent shared holders release independently.
func (s *FileStore) acquire(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCronIO, err)
	}
	lock := flock.New(s.lockPath)
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = lock.TryLockContext(ctx, s.retryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, s.retryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrCronIO, s.lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock %s not acquired", ErrCronIO, s.lockPath)
	}
	return lock, nil
}

func release(lock *flock.Flock) {
	if err := lock.Close(); err != nil {
		log.Warn().Err(err).Str("path", lock.Path()).Msg("Failed to release crontab lock")
	}
}

func (s *FileStore) read() (*Cron, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCronIO, s.path, err)
	}
	return Parse(string(data)), nil
}

// write replaces the file atomically: temp file, fsync, install, rename,
// fsync dir. A failed install leaves the previous file in place.
func (s *FileStore) write(ctx context.Context, cron *Cron) (err error) {
	defer func() { metrics.RecordCrontabSave(err) }()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrCronIO, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.WriteString(cron.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write: %v", ErrCronIO, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: fsync: %v", ErrCronIO, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrCronIO, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: chmod: %v", ErrCronIO, err)
	}
	// the file only changes once the system cron accepted the new content
	if err = s.install(ctx, tmpName); err != nil {
		return err
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrCronIO, err)
	}
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	log.Debug().Str("path", s.path).Int("jobs", len(cron.Jobs())).Msg("Crontab saved")
	return nil
}

func (s *FileStore) install(ctx context.Context, path string) error {
	if len(s.installCommand) == 0 {
		return nil
	}
	args := append(append([]string(nil), s.installCommand[1:]...), path)
	out, err := exec.CommandContext(ctx, s.installCommand[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: install %q: %v: %s", ErrCronIO, strings.Join(s.installCommand, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
