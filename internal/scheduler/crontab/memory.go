package crontab

import (
	"context"
	"sync"
)

// SaveRecord is what MemoryStore remembers about one save.
type SaveRecord struct {
	Content string
	Changes []Change
}

// MemoryStore keeps the crontab in memory and records every save.
type MemoryStore struct {
	mu      sync.RWMutex
	content string
	saves   []SaveRecord
	saveErr error
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{content: initial}
}

func (s *MemoryStore) Load(ctx context.Context) (*Cron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Parse(s.content), nil
}

func (s *MemoryStore) Save(ctx context.Context, cron *Cron) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cron)
}

func (s *MemoryStore) FindByComment(ctx context.Context, comment string) (Job, bool, error) {
	cron, _ := s.Load(ctx)
	job, ok := cron.FindByComment(comment)
	return job, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, fn func(*Cron) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cron := Parse(s.content)
	if err := fn(cron); err != nil {
		return err
	}
	if !cron.Mutated() {
		return nil
	}
	return s.save(cron)
}

func (s *MemoryStore) save(cron *Cron) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.content = cron.String()
	s.saves = append(s.saves, SaveRecord{Content: s.content, Changes: cron.Changes()})
	return nil
}

// FailSaves makes every following save return err; nil restores saving.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

func (s *MemoryStore) Saves() []SaveRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SaveRecord(nil), s.saves...)
}

// Comments lists the managed comments currently in the crontab.
func (s *MemoryStore) Comments() []string {
	cron, _ := s.Load(context.Background())
	return cron.Comments()
}
