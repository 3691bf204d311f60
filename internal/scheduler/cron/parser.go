package cron

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidInterval = errors.New("invalid cron interval")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrDSTZone         = errors.New("timezone observes daylight saving time")
)

// shorthands maps the accepted descriptors onto their five field form.
var shorthands = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

type Parser struct {
	parser cron.Parser
}

// NewParser accepts plain five field expressions only. Descriptors are
// expanded before parsing so @every and @reboot never reach the crontab.
func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}
}

func (p *Parser) Parse(expression string) (cron.Schedule, error) {
	expanded, err := expand(expression)
	if err != nil {
		return nil, err
	}
	schedule, err := p.parser.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	return schedule, nil
}

func (p *Parser) Validate(expression string) error {
	_, err := p.Parse(expression)
	return err
}

// expand lowercases, collapses whitespace and resolves shorthands.
func expand(expression string) (string, error) {
	s := strings.ToLower(strings.Join(strings.Fields(expression), " "))
	if s == "" {
		return "", fmt.Errorf("%w: empty expression", ErrInvalidInterval)
	}
	if strings.HasPrefix(s, "@") {
		full, ok := shorthands[s]
		if !ok {
			return "", fmt.Errorf("%w: unsupported descriptor %q", ErrInvalidInterval, s)
		}
		return full, nil
	}
	if n := len(strings.Fields(s)); n != 5 {
		return "", fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidInterval, n)
	}
	return s, nil
}
