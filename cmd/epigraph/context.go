package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/epigraph-corpus/internal/config"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
	"github.com/Sternrassler/epigraph-corpus/pkg/logging"
	"github.com/Sternrassler/epigraph-corpus/pkg/metrics"
)

// labelerFactory builds the labeling client for the annotate command.
type labelerFactory func(labeling.Config) (labeling.Labeler, error)

func newGeminiLabeler(cfg labeling.Config) (labeling.Labeler, error) {
	client, err := labeling.NewGeminiClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type commandContext struct {
	configFlag  *string
	levelFlag   *string
	metricsFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	newLabeler labelerFactory
}

func newCommandContext(configFlag, levelFlag, metricsFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		levelFlag:   levelFlag,
		metricsFlag: metricsFlag,
		newLabeler:  newGeminiLabeler,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
			level := strings.ToLower(strings.TrimSpace(*c.levelFlag))
			if !logging.ValidLevel(logging.LogLevel(level)) {
				c.configErr = fmt.Errorf("--log-level: %w", config.ErrInvalidLogLevel)
				return
			}
			cfg.Logging.Level = level
		}
		if c.metricsFlag != nil && strings.TrimSpace(*c.metricsFlag) != "" {
			cfg.Metrics.Addr = strings.TrimSpace(*c.metricsFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// setup loads the configuration, installs the global logger and starts the
// metrics endpoint when one is configured. The endpoint stops with ctx.
func (c *commandContext) setup(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	if cfg.Metrics.Addr != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	log.Debug().Str("command", cmd.CommandPath()).Msg("Configuration loaded")
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
