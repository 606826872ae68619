// Package config loads the TOML configuration shared by every triage command.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/gate"
	"github.com/danielpatrickdp/photophys-triage/internal/logging"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "TRIAGE_CONFIG"

// DefaultPath is used when neither a flag nor EnvPath names a file.
const DefaultPath = "triage.toml"

// Retrieval configures the two-stage retriever.
type Retrieval struct {
	K                int      `toml:"k"`
	M                int      `toml:"m"`
	GateFactor       float64  `toml:"gate_factor"`
	UsePhysical      bool     `toml:"use_physical"`
	StructWeight     float64  `toml:"struct_weight"`
	PhysWeight       float64  `toml:"phys_weight"`
	DescriptorFields []string `toml:"descriptor_fields"`
}

// Scoring configures the score computer.
type Scoring struct {
	StructWeight   float64  `toml:"struct_weight"`
	MetaWeight     float64  `toml:"meta_weight"`
	Beta           float64  `toml:"beta"`
	ExcludedLabels []string `toml:"excluded_labels"`
	CriticalFields []string `toml:"critical_fields"`
}

// Thresholds holds the calibration percentile levels.
type Thresholds struct {
	CoverageLowPct  float64 `toml:"coverage_low_pct"`
	CoverageHighPct float64 `toml:"coverage_high_pct"`
	NoveltyHighPct  float64 `toml:"novelty_high_pct"`
	EntropyHighPct  float64 `toml:"entropy_high_pct"`
}

// Anchors configures which molecules enter the anchor index.
type Anchors struct {
	RequireDescriptors bool `toml:"require_descriptors"`
}

// Gate configures the evidence-readiness gate.
type Gate struct {
	RequiredFields []string `toml:"required_fields"`
}

// Batch configures batch scoring.
type Batch struct {
	Workers     int  `toml:"workers"`
	ExportGraph bool `toml:"export_graph"`
	LogVerdicts bool `toml:"log_verdicts"`
}

// Storage configures the SQLite database and its writer lock.
type Storage struct {
	DBPath   string `toml:"db_path"`
	LockPath string `toml:"lock_path"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Remote configures the optional gRPC descriptor store.
type Remote struct {
	DescriptorAddr string `toml:"descriptor_addr"`
}

// Config is the full triage configuration.
type Config struct {
	Retrieval  Retrieval  `toml:"retrieval"`
	Scoring    Scoring    `toml:"scoring"`
	Thresholds Thresholds `toml:"thresholds"`
	Anchors    Anchors    `toml:"anchors"`
	Gate       Gate       `toml:"gate"`
	Batch      Batch      `toml:"batch"`
	Storage    Storage    `toml:"storage"`
	Logging    Logging    `toml:"logging"`
	Remote     Remote     `toml:"remote"`
}

// ResolvePath picks the config path: explicit flag, then EnvPath, then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load parses and validates the configuration at path. A missing file yields
// the defaults and exists=false.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	exists := true
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// #region component-configs

// RetrievalConfig returns the retriever parameters.
func (c *Config) RetrievalConfig() retrieval.Config {
	return retrieval.Config{
		K:            c.Retrieval.K,
		M:            c.Retrieval.M,
		GateFactor:   c.Retrieval.GateFactor,
		UsePhysical:  c.Retrieval.UsePhysical,
		StructWeight: c.Retrieval.StructWeight,
		PhysWeight:   c.Retrieval.PhysWeight,
	}
}

// ScoreConfig returns the score computer parameters.
func (c *Config) ScoreConfig() score.Config {
	return score.Config{
		StructWeight:   c.Scoring.StructWeight,
		MetaWeight:     c.Scoring.MetaWeight,
		Beta:           c.Scoring.Beta,
		ExcludedLabels: c.Scoring.ExcludedLabels,
		CriticalFields: c.Scoring.CriticalFields,
	}
}

// CalibrateConfig returns the calibrator parameters.
func (c *Config) CalibrateConfig() calibrate.Config {
	return calibrate.Config{
		CoverageLowPct:  c.Thresholds.CoverageLowPct,
		CoverageHighPct: c.Thresholds.CoverageHighPct,
		NoveltyHighPct:  c.Thresholds.NoveltyHighPct,
		EntropyHighPct:  c.Thresholds.EntropyHighPct,
		Workers:         c.Batch.Workers,
	}
}

// AnchorPolicy returns the anchor admission policy.
func (c *Config) AnchorPolicy() anchor.Policy {
	return anchor.Policy{
		RequireDescriptors:       c.Anchors.RequireDescriptors,
		RequiredDescriptorFields: c.Retrieval.DescriptorFields,
	}
}

// GateConfig returns the readiness gate parameters.
func (c *Config) GateConfig() gate.Config {
	return gate.Config{RequiredFields: c.Gate.RequiredFields}
}

// LoggingOptions returns the logger options.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, Format: c.Logging.Format}
}

// #endregion component-configs
