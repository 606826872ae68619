package config

import (
	"github.com/danielpatrickdp/photophys-triage/internal/calibrate"
	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/gate"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	rc := retrieval.DefaultConfig()
	sc := score.DefaultConfig()
	cc := calibrate.DefaultConfig()
	return Config{
		Retrieval: Retrieval{
			K:                rc.K,
			M:                rc.M,
			GateFactor:       rc.GateFactor,
			UsePhysical:      rc.UsePhysical,
			StructWeight:     rc.StructWeight,
			PhysWeight:       rc.PhysWeight,
			DescriptorFields: descriptor.DefaultFields(),
		},
		Scoring: Scoring{
			StructWeight:   sc.StructWeight,
			MetaWeight:     sc.MetaWeight,
			Beta:           sc.Beta,
			ExcludedLabels: sc.ExcludedLabels,
		},
		Thresholds: Thresholds{
			CoverageLowPct:  cc.CoverageLowPct,
			CoverageHighPct: cc.CoverageHighPct,
			NoveltyHighPct:  cc.NoveltyHighPct,
			EntropyHighPct:  cc.EntropyHighPct,
		},
		Gate: Gate{RequiredFields: gate.DefaultConfig().RequiredFields},
		Batch: Batch{
			Workers:     cc.Workers,
			LogVerdicts: true,
		},
		Storage: Storage{
			DBPath:   "triage.db",
			LockPath: "triage.db.lock",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}
