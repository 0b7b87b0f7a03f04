package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/signreel/signreel/internal/config"
	"github.com/signreel/signreel/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		for _, dir := range []string{cfg.DataDir, cfg.CacheDir(), cfg.WorkspaceDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				c.configErr = fmt.Errorf("create %s: %w", dir, err)
				return
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// loggerFor returns the process logger. CLI commands other than serve log
// warnings only so their own output stays readable.
func (c *commandContext) loggerFor(cfg *config.Config, verbose bool) *slog.Logger {
	c.loggerOnce.Do(func() {
		level := cfg.Log.Level
		if !verbose {
			level = "warn"
		}
		c.logger = logging.NewLogger(level, cfg.Log.Format)
	})
	return c.logger
}
