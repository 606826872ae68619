package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/logging"
	"github.com/danielpatrickdp/photophys-triage/internal/state"
)

type commandContext struct {
	configFlag *string
	formatFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag, formatFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		formatFlag: formatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var flagPath string
		if c.configFlag != nil {
			flagPath = strings.TrimSpace(*c.configFlag)
		}
		c.configPath = config.ResolvePath(flagPath)
		cfg, _, err := config.Load(c.configPath)
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(cfg.LoggingOptions())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// withStore opens the state database for reading.
func (c *commandContext) withStore(fn func(*config.Config, *state.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := state.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withWriter is withStore holding the single-writer lock for the duration of fn.
func (c *commandContext) withWriter(fn func(*config.Config, *state.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	lock := flock.New(cfg.Storage.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another triage writer holds %s", cfg.Storage.LockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			c.logger.Warn("failed to release writer lock", slog.String("lock", cfg.Storage.LockPath), slog.Any("error", err))
		}
	}()
	return c.withStore(fn)
}

// outputFormat resolves --format for the command's stdout.
func (c *commandContext) outputFormat(cmd *cobra.Command) (string, error) {
	format := "auto"
	if c.formatFlag != nil {
		format = strings.ToLower(strings.TrimSpace(*c.formatFlag))
	}
	switch format {
	case "table", "json":
		return format, nil
	case "", "auto":
		if isTerminal(cmd.OutOrStdout()) {
			return "table", nil
		}
		return "json", nil
	default:
		return "", errors.New("format must be auto, table or json")
	}
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
