// Package mirror provides a thin Go SDK for programmatic access to the
// InVision mirroring engine. It wraps internal/mirror with a stable,
// embeddable API, the same role pkg/carto plays over carto's internal
// pipeline.
package mirror

import (
	"context"
	"fmt"

	"github.com/divyekant/invision-mirror/internal/config"
	internalmirror "github.com/divyekant/invision-mirror/internal/mirror"
)

// Options configures a single mirroring run. Zero values fall back to
// the same environment-derived defaults internal/config.Load uses.
type Options struct {
	DocsRoot         string
	Option           string // "", "overwrite", or "update"
	TestMode         bool
	CustomCAFile     string
	MaxScreenWorkers int
}

// Result summarizes a completed run's per-project outcomes.
type Result struct {
	Successful []string
	Ignored    []string
	Failed     []string
}

// RunOnce authenticates against InVision using INVISION_EMAIL and
// INVISION_PASSWORD from the environment and performs one full
// mirroring pass, returning the three-way outcome partition.
func RunOnce(ctx context.Context, opts Options) (*Result, error) {
	cfg := config.Load()
	if opts.DocsRoot != "" {
		cfg.DocsRoot = opts.DocsRoot
	}
	if opts.TestMode {
		cfg.TestMode = true
	}
	if opts.CustomCAFile != "" {
		cfg.CustomCAFile = opts.CustomCAFile
	}
	if opts.MaxScreenWorkers > 0 {
		cfg.MaxScreenWorkers = opts.MaxScreenWorkers
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("mirror: INVISION_EMAIL and INVISION_PASSWORD must be set")
	}

	res, err := internalmirror.Run(ctx, cfg, opts.Option)
	if err != nil {
		return nil, err
	}
	return &Result{
		Successful: res.Successful,
		Ignored:    res.Ignored,
		Failed:     res.Failed,
	}, nil
}
