package config

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger returns a prefixed logger honouring logging.level.
func (c *Config) Logger(prefix string) *log.Logger {
	c.mu.RLock()
	level := c.Logging.Level
	c.mu.RUnlock()
	return NewLogger(os.Stderr, prefix, level)
}

// NewLogger builds a charmbracelet logger at the named level. Unknown levels
// fall back to info.
func NewLogger(w io.Writer, prefix, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: prefix})
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
