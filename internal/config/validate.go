package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.RetrievalConfig().Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.CalibrateConfig().Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Anchors.RequireDescriptors && len(c.Retrieval.DescriptorFields) == 0 {
		return errors.New("anchors.require_descriptors needs retrieval.descriptor_fields")
	}
	if c.Batch.Workers < 1 {
		return errors.New("batch.workers must be at least 1")
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path must be set")
	}
	if strings.TrimSpace(c.Storage.LockPath) == "" {
		return errors.New("storage.lock_path must be set")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	if s.StructWeight < 0 || s.MetaWeight < 0 {
		return errors.New("scoring weights must be non-negative")
	}
	if math.Abs(s.StructWeight+s.MetaWeight-1) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1, got %.4f", s.StructWeight+s.MetaWeight)
	}
	if s.Beta <= 0 {
		return fmt.Errorf("scoring.beta must be positive, got %v", s.Beta)
	}
	return nil
}
