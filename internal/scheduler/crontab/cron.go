// Package crontab keeps the OS crontab that drives bot schedules. Managed
// jobs are identified by their trailing comment; every other line in the
// file is preserved verbatim.
package crontab

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/langboard/botengine/internal/domain/models"
)

const (
	DefaultScriptPath = "/app/scripts/run_bot_cron.sh"
	scheduledPrefix   = "scheduled "
)

// Comment is the crontab key for a schedule in the given status. Stopped
// schedules have no cron line and get an empty comment.
func Comment(interval string, status models.BotScheduleStatus) string {
	switch status {
	case models.ScheduleStatusPending:
		return scheduledPrefix + interval
	case models.ScheduleStatusStarted:
		return interval
	}
	return ""
}

// ParseComment splits a comment into its interval and whether it is the
// boundary line of pending schedules.
func ParseComment(comment string) (interval string, boundary bool) {
	comment = strings.TrimSpace(comment)
	if strings.HasPrefix(comment, scheduledPrefix) {
		return strings.TrimSpace(comment[len(scheduledPrefix):]), true
	}
	return comment, false
}

// StatusOf is the schedule status a comment stands for.
func StatusOf(comment string) models.BotScheduleStatus {
	if _, boundary := ParseComment(comment); boundary {
		return models.ScheduleStatusPending
	}
	return models.ScheduleStatusStarted
}

// Command is the runner invocation with the comment as its only argument.
func Command(scriptPath, comment string) string {
	if scriptPath == "" {
		scriptPath = DefaultScriptPath
	}
	return scriptPath + " " + shellQuote(comment)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type Job struct {
	Interval string
	Command  string
	Comment  string
}

func (j Job) String() string {
	return fmt.Sprintf("%s %s # %s", j.Interval, j.Command, j.Comment)
}

type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeRemove ChangeKind = "remove"
)

// Change is one entry of the mutation journal kept since the crontab was
// loaded.
type Change struct {
	Kind    ChangeKind
	Comment string
}

type line struct {
	raw string
	job *Job
}

// Cron is an in-memory crontab. It is not safe for concurrent use; the Store
// serializes access.
type Cron struct {
	lines   []line
	changes []Change
}

func New() *Cron {
	return &Cron{}
}

// Parse reads crontab text. Lines that are not "<5 fields> <command> # <comment>"
// are kept as foreign lines.
func Parse(text string) *Cron {
	c := New()
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if job, ok := parseJob(raw); ok {
			c.lines = append(c.lines, line{raw: raw, job: &job})
			continue
		}
		c.lines = append(c.lines, line{raw: raw})
	}
	return c
}

func parseJob(raw string) (Job, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Job{}, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 6 {
		return Job{}, false
	}
	i := strings.LastIndex(trimmed, " # ")
	if i < 0 {
		return Job{}, false
	}
	comment := strings.TrimSpace(trimmed[i+3:])
	body := strings.TrimSpace(trimmed[:i])
	bodyFields := strings.Fields(body)
	if comment == "" || len(bodyFields) < 6 {
		return Job{}, false
	}
	return Job{
		Interval: strings.Join(bodyFields[:5], " "),
		Command:  strings.Join(bodyFields[5:], " "),
		Comment:  comment,
	}, true
}

func (c *Cron) Jobs() []Job {
	var jobs []Job
	for _, l := range c.lines {
		if l.job != nil {
			jobs = append(jobs, *l.job)
		}
	}
	return jobs
}

// Comments lists the comments of managed jobs in file order.
func (c *Cron) Comments() []string {
	var out []string
	for _, j := range c.Jobs() {
		out = append(out, j.Comment)
	}
	return out
}

func (c *Cron) FindByComment(comment string) (Job, bool) {
	for _, l := range c.lines {
		if l.job != nil && l.job.Comment == comment {
			return *l.job, true
		}
	}
	return Job{}, false
}

// AddJob appends a job unless one with the same comment exists. It reports
// whether the crontab changed.
func (c *Cron) AddJob(interval, command, comment string) bool {
	if comment == "" {
		return false
	}
	if _, ok := c.FindByComment(comment); ok {
		return false
	}
	job := Job{Interval: interval, Command: command, Comment: comment}
	c.lines = append(c.lines, line{raw: job.String(), job: &job})
	c.changes = append(c.changes, Change{Kind: ChangeAdd, Comment: comment})
	return true
}

// RemoveJob drops every job whose comment matches exactly.
func (c *Cron) RemoveJob(comment string) bool {
	if comment == "" {
		return false
	}
	kept := c.lines[:0]
	removed := false
	for _, l := range c.lines {
		if l.job != nil && l.job.Comment == comment {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	c.lines = kept
	if removed {
		c.changes = append(c.changes, Change{Kind: ChangeRemove, Comment: comment})
	}
	return removed
}

func (c *Cron) Changes() []Change {
	return append([]Change(nil), c.changes...)
}

func (c *Cron) Mutated() bool {
	return len(c.changes) > 0
}

func (c *Cron) String() string {
	var b strings.Builder
	for _, l := range c.lines {
		b.WriteString(l.raw)
		b.WriteByte('\n')
	}
	return b.String()
}
