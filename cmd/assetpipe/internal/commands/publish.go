package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/logger"
	"github.com/wolfeidau/assetpipe/internal/publish"
)

type PublishCmd struct {
	ConfigFlags `embed:""`

	Dir      string `help:"directory to upload, defaults to the configured output path" env:"ASSETPIPE_PUBLISH_DIR"`
	Build    bool   `help:"build before publishing" default:"false"`
	Bucket   string `help:"destination bucket" required:"" env:"ASSETPIPE_BUCKET"`
	Prefix   string `help:"key prefix inside the bucket" env:"ASSETPIPE_PREFIX"`
	Uploads  int    `help:"parallel uploads" default:"8"`
	MaxTries uint   `help:"attempts per object before giving up" default:"5"`
	Tracing  bool   `help:"enable tracing" default:"false" env:"ASSETPIPE_TRACING"`

	S3 S3Flags `embed:"" prefix:"s3-"`
}

// S3Flags configure the object storage endpoint. Credentials fall back to the
// standard AWS environment variables.
type S3Flags struct {
	Endpoint  string `help:"S3 compatible endpoint" default:"s3.amazonaws.com" env:"ASSETPIPE_S3_ENDPOINT"`
	Region    string `help:"bucket region" env:"AWS_REGION"`
	AccessKey string `help:"access key" env:"ASSETPIPE_S3_ACCESS_KEY"`
	SecretKey string `help:"secret key" env:"ASSETPIPE_S3_SECRET_KEY"`
	Insecure  bool   `help:"connect over plain HTTP" default:"false"`
}

func (c *PublishCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Str("bucket", c.Bucket).Msg("Starting publish")

	if c.Tracing {
		defer startTracing(ctx, log, globals.Version)()
	}

	cfg, err := c.Load()
	if err != nil {
		return err
	}

	if c.Build {
		if err := build(ctx, assets.New(cfg)); err != nil {
			return err
		}
	}

	client, err := publish.NewClient(publish.S3Config{
		Endpoint:  c.S3.Endpoint,
		Region:    c.S3.Region,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		UseSSL:    !c.S3.Insecure,
	})
	if err != nil {
		return err
	}

	dir := c.Dir
	if dir == "" {
		dir = cfg.Output.Path
	}

	publisher := publish.New(client, c.Bucket,
		publish.WithPrefix(c.Prefix),
		publish.WithConcurrency(c.Uploads),
		publish.WithMaxTries(c.MaxTries),
	)
	res, err := publisher.Publish(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", dir, err)
	}

	log.Info().
		Int("objects", res.Objects).
		Int64("bytes", res.Bytes).
		Int64("retries", res.Retries).
		Msg("Publish complete")
	return nil
}
