package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/assetpipe/cmd/assetpipe/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build   commands.BuildCmd   `cmd:"" help:"Build assets into the output directory"`
		Serve   commands.ServeCmd   `cmd:"" help:"Serve the output directory"`
		Publish commands.PublishCmd `cmd:"" help:"Upload the output directory to S3 compatible storage"`
		Config  commands.ConfigCmd  `cmd:"" help:"Print the resolved configuration"`
		Debug   bool                `help:"Enable debug mode." env:"ASSETPIPE_DEBUG"`
		Version kong.VersionFlag
	}
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("assetpipe"),
		kong.Description("Bundle scripts, styles and media into hashed static assets."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
