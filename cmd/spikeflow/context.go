package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"spikeflow/internal/config"
	"spikeflow/internal/logging"
	"spikeflow/internal/services/bridge"
)

// toolkitFactory builds the external toolkit for a resolved config.
type toolkitFactory func(cfg *config.Config, logger *slog.Logger) bridge.Toolkit

type contextOption func(*commandContext)

// withToolkitFactory replaces the bridge client. Tests inject a fake toolkit.
func withToolkitFactory(fn toolkitFactory) contextOption {
	return func(c *commandContext) {
		if fn != nil {
			c.newToolkit = fn
		}
	}
}

type commandContext struct {
	configFlag *string
	newToolkit toolkitFactory

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag: configFlag,
		newToolkit: newBridgeToolkit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) toolkit(cfg *config.Config, logger *slog.Logger) bridge.Toolkit {
	return c.newToolkit(cfg, logger)
}

func newBridgeToolkit(cfg *config.Config, logger *slog.Logger) bridge.Toolkit {
	return bridge.NewCLI(
		bridge.WithPython(cfg.Bridge.Python),
		bridge.WithScriptDir(filepath.Join(cfg.Paths.StateDir, "bridge")),
		bridge.WithLogger(logging.NewComponentLogger(logger, "bridge")),
		bridge.WithStageTimeout(time.Duration(cfg.Bridge.StageTimeoutMinutes)*time.Minute),
	)
}

// newLogger writes console or JSON records to out and a JSON copy to the
// configured log file.
func newLogger(cfg *config.Config, out io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Writer:   out,
		FilePath: cfg.LogFilePath(),
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
