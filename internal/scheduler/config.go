package scheduler

import "github.com/langboard/botengine/internal/scheduler/crontab"

type Config struct {
	// Crontab command
	ScriptPath string

	// Timezones observing DST drift after a transition; opt in explicitly.
	AllowDSTZones bool
}

func DefaultConfig() *Config {
	return &Config{
		ScriptPath: crontab.DefaultScriptPath,
	}
}

func (c *Config) Validate() error {
	if c.ScriptPath == "" {
		c.ScriptPath = crontab.DefaultScriptPath
	}
	return nil
}
