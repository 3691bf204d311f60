package cron

import (
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Calculator previews fire times of UTC intervals, caching parsed schedules
// by expression.
type Calculator struct {
	parser   *Parser
	cache    map[string]*cacheEntry
	cacheTTL time.Duration
	mu       sync.RWMutex
}

type cacheEntry struct {
	schedule cronlib.Schedule
	cachedAt time.Time
}

func NewCalculator() *Calculator {
	return &Calculator{
		parser:   NewParser(),
		cache:    make(map[string]*cacheEntry),
		cacheTTL: 10 * time.Minute,
	}
}

func (c *Calculator) NextRun(expression string, from time.Time) (time.Time, error) {
	schedule, err := c.getSchedule(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.UTC()), nil
}

func (c *Calculator) NextRuns(expression string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := c.getSchedule(expression)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, n)
	current := from.UTC()

	for i := 0; i < n; i++ {
		current = schedule.Next(current)
		runs[i] = current
	}

	return runs, nil
}

// Matches reports whether the interval fires in the minute containing t.
func (c *Calculator) Matches(expression string, t time.Time) (bool, error) {
	schedule, err := c.getSchedule(expression)
	if err != nil {
		return false, err
	}
	minute := t.UTC().Truncate(time.Minute)
	return schedule.Next(minute.Add(-time.Second)).Equal(minute), nil
}

func (c *Calculator) getSchedule(expression string) (cronlib.Schedule, error) {
	c.mu.RLock()
	entry, exists := c.cache[expression]
	c.mu.RUnlock()

	if exists && time.Since(entry.cachedAt) < c.cacheTTL {
		return entry.schedule, nil
	}

	schedule, err := c.parser.Parse(expression)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[expression] = &cacheEntry{
		schedule: schedule,
		cachedAt: time.Now(),
	}
	c.mu.Unlock()

	return schedule, nil
}

func (c *Calculator) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// NextRuns previews the next n fire times of a UTC interval after from.
func NextRuns(expression string, from time.Time, n int) ([]time.Time, error) {
	return defaultCalculator.NextRuns(expression, from, n)
}

var defaultCalculator = NewCalculator()
