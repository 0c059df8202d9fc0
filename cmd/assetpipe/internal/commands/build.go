package commands

import (
	"context"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/logger"
)

type BuildCmd struct {
	ConfigFlags `embed:""`

	Tracing bool `help:"enable tracing" default:"false" env:"ASSETPIPE_TRACING"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting build")

	if c.Tracing {
		defer startTracing(ctx, log, globals.Version)()
	}

	cfg, err := c.Load()
	if err != nil {
		return err
	}

	return build(ctx, assets.New(cfg))
}
