package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/assetpipe/internal/assets"
	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// ConfigFlags locate the configuration file and override parts of it.
type ConfigFlags struct {
	Config      string `help:"path to the YAML configuration" short:"c" default:"assetpipe.yaml" env:"ASSETPIPE_CONFIG" type:"path"`
	Entry       string `help:"entry module, overrides the configured entries" env:"ASSETPIPE_ENTRY"`
	Output      string `help:"output directory" short:"o" env:"ASSETPIPE_OUTPUT"`
	Mode        string `help:"production or development" env:"ASSETPIPE_MODE"`
	Minimize    string `help:"true or false, overrides optimization.minimize" env:"ASSETPIPE_MINIMIZE"`
	Clean       string `help:"true or false, overrides output.clean" env:"ASSETPIPE_CLEAN"`
	Concurrency int    `help:"number of transform workers, zero uses every CPU" env:"ASSETPIPE_CONCURRENCY"`
}

// Load reads the configuration file, falling back to the defaults in the
// working directory when the default file does not exist, and applies the
// flag overrides.
func (f *ConfigFlags) Load() (*config.Config, error) {
	var opts []config.Option
	if f.Entry != "" {
		opts = append(opts, config.WithEntry("main", f.Entry))
	}
	if f.Output != "" {
		opts = append(opts, config.WithOutputPath(f.Output))
	}
	if f.Mode != "" {
		opts = append(opts, config.WithMode(config.Mode(f.Mode)))
	}
	if f.Minimize != "" {
		minimize, err := strconv.ParseBool(f.Minimize)
		if err != nil {
			return nil, fmt.Errorf("invalid --minimize %q: %w", f.Minimize, err)
		}
		opts = append(opts, config.WithMinimize(minimize))
	}
	if f.Clean != "" {
		clean, err := strconv.ParseBool(f.Clean)
		if err != nil {
			return nil, fmt.Errorf("invalid --clean %q: %w", f.Clean, err)
		}
		opts = append(opts, config.WithClean(clean))
	}
	opts = append(opts, config.WithConcurrency(f.Concurrency))

	if _, err := os.Stat(f.Config); err == nil {
		return config.Load(f.Config, opts...)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.New(config.Default(), dir, opts...)
}

// startTracing exports traces and metrics over OTLP. The returned function
// flushes and stops the exporters.
func startTracing(ctx context.Context, log zerolog.Logger, version string) func() {
	log.Info().Msg("Tracing is enabled")
	provider, err := telemetry.Start(ctx, telemetry.Options{ServiceName: "assetpipe", Version: version})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

func build(ctx context.Context, pipeline *assets.Pipeline) error {
	res, err := pipeline.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build assets: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("build", res.ID).
		Str("hash", res.Manifest.Build).
		Int("assets", res.Assets).
		Dur("duration", res.Duration).
		Msg("Assets ready")
	return nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return h
	}
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		ExposedHeaders: []string{"Content-Encoding", "Content-Length"},
		MaxAge:         3600,
	})
	return middleware.Handler(h)
}
