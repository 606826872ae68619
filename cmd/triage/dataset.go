package main

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/batch"
	"github.com/danielpatrickdp/photophys-triage/internal/codec"
	"github.com/danielpatrickdp/photophys-triage/internal/config"
	"github.com/danielpatrickdp/photophys-triage/internal/fixture"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
	"github.com/danielpatrickdp/photophys-triage/internal/score"
)

// population is a loaded dataset and the anchor index built from it.
type population struct {
	dataset *fixture.Dataset
	index   *anchor.Index
}

func loadPopulation(cfg *config.Config, path string) (*population, error) {
	ds, err := fixture.Load(path)
	if err != nil {
		return nil, err
	}
	mols, err := ds.AnchorMolecules()
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	idx, err := anchor.Build(mols, cfg.AnchorPolicy(), cfg.Retrieval.DescriptorFields)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return &population{dataset: ds, index: idx}, nil
}

// queries resolves the molecules to score. Explicit keys are hydrated from the
// remote descriptor store when one is configured, else from the dataset.
func (p *population) queries(ctx context.Context, cfg *config.Config, keys []string) ([]anchor.Molecule, error) {
	if len(keys) == 0 {
		return p.dataset.QueryMolecules()
	}
	if cfg.Remote.DescriptorAddr != "" {
		client, err := codec.NewClient(cfg.Remote.DescriptorAddr)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return anchor.Hydrate(ctx, client, client, client, keys)
	}
	store, err := p.dataset.Store()
	if err != nil {
		return nil, err
	}
	return anchor.Hydrate(ctx, store, store, store, keys)
}

// find returns the dataset molecule with key, anchors first.
func (p *population) find(key string) (anchor.Molecule, bool, error) {
	for _, load := range []func() ([]anchor.Molecule, error){p.dataset.AnchorMolecules, p.dataset.QueryMolecules} {
		mols, err := load()
		if err != nil {
			return anchor.Molecule{}, false, err
		}
		for _, m := range mols {
			if m.Key == key {
				return m, true, nil
			}
		}
	}
	return anchor.Molecule{}, false, nil
}

func batchConfig(cfg *config.Config) batch.Config {
	return batch.Config{
		Retrieval: cfg.RetrievalConfig(),
		Score:     cfg.ScoreConfig(),
		Calibrate: cfg.CalibrateConfig(),
		Workers:   cfg.Batch.Workers,
	}
}

func newComputer(cfg *config.Config, idx *anchor.Index) (*score.Computer, error) {
	r, err := retrieval.NewRetriever(idx, cfg.RetrievalConfig())
	if err != nil {
		return nil, err
	}
	return score.NewComputer(r, cfg.ScoreConfig()), nil
}
