package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/config"
	httpmw "github.com/wolfeidau/assetpipe/internal/http"
	"github.com/wolfeidau/assetpipe/internal/logger"
)

type ServeCmd struct {
	ConfigFlags `embed:""`

	Listen      string   `help:"HTTP listen address" default:"localhost:3000" env:"ASSETPIPE_LISTEN"`
	Dir         string   `help:"directory to serve, defaults to the configured output path" env:"ASSETPIPE_SERVE_DIR"`
	Build       bool     `help:"build before serving" default:"false"`
	Fallback    string   `help:"file served for unknown page paths, empty disables it" default:"index.html"`
	CORSOrigins []string `help:"allowed CORS origins for assets" env:"ASSETPIPE_CORS_ORIGINS"`
	TrustProxy  bool     `help:"take the client IP from X-Forwarded-For and X-Real-IP" default:"false" env:"ASSETPIPE_TRUST_PROXY"`
	Tracing     bool     `help:"enable tracing" default:"false" env:"ASSETPIPE_TRACING"`

	// Page rendering from a template instead of a built index.html
	Template  string `help:"html/template file rendered with the scripts and styles of --page-entry"`
	Page      string `help:"route the template is served on" default:"/app"`
	PageEntry string `help:"entry whose assets the template loads" default:"main"`
	Title     string `help:"page title passed to the template" default:"assetpipe"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		defer startTracing(ctx, log, globals.Version)()
	}

	cfg, err := c.Load()
	if err != nil {
		return err
	}

	pipeline, err := c.pipeline(cfg)
	if err != nil {
		return err
	}
	if c.Build {
		if err := build(ctx, pipeline); err != nil {
			return err
		}
	}

	handler, err := c.handler(cfg, pipeline, log)
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, handler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Str("dir", c.dir(cfg)).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("Stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (c *ServeCmd) pipeline(cfg *config.Config) (*assets.Pipeline, error) {
	if c.Template == "" {
		return assets.New(cfg), nil
	}
	pipeline, err := assets.NewWithTemplate(cfg, c.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to load page template: %w", err)
	}
	return pipeline, nil
}

func (c *ServeCmd) dir(cfg *config.Config) string {
	if c.Dir != "" {
		return c.Dir
	}
	return cfg.Output.Path
}

// handler assembles the static file server, the optional template page and
// the request logging and client IP middleware.
func (c *ServeCmd) handler(cfg *config.Config, pipeline *assets.Pipeline, log zerolog.Logger) (http.Handler, error) {
	dir := c.dir(cfg)

	mux := http.NewServeMux()
	mux.Handle("/", httpmw.Static(dir, httpmw.StaticOptions{Fallback: c.Fallback}))

	if c.Template != "" {
		if !c.Build {
			if cfg.Output.Manifest == "" {
				return nil, errors.New("--template needs output.manifest or --build")
			}
			if err := pipeline.LoadManifest(filepath.Join(dir, cfg.Output.Manifest)); err != nil {
				return nil, fmt.Errorf("failed to load manifest: %w", err)
			}
		}
		page, err := pipeline.Handler(filepath.Base(c.Template), c.Title, c.PageEntry, nil)
		if err != nil {
			return nil, err
		}
		mux.HandleFunc(c.Page, page)
	}

	clientIPMiddleware := httpmw.ClientIPMiddleware(c.TrustProxy)
	return clientIPMiddleware(logger.NewRequests(log, withCORS(c.CORSOrigins, mux))), nil
}
