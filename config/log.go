package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LogConfig controls the process logger. Empty fields fall back to info/json,
// or debug/text in dev mode.
type LogConfig struct {
	Level  string `env:"LEVEL"`
	Format string `env:"FORMAT"`
}

// SlogLevel parses Level ("debug", "info", "warn", "error", or offsets like "info+2").
func (c LogConfig) SlogLevel(dev bool) (slog.Level, error) {
	if strings.TrimSpace(c.Level) == "" {
		if dev {
			return slog.LevelDebug, nil
		}
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Level, err)
	}
	return lvl, nil
}

// Text reports whether the text handler should be used instead of JSON.
func (c LogConfig) Text(dev bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "":
		return dev, nil
	case "json":
		return false, nil
	case "text":
		return true, nil
	default:
		return false, fmt.Errorf("invalid LOG_FORMAT %q (valid options: json, text)", c.Format)
	}
}
