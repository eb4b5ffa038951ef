package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	Dir string `help:"Directory holding config/ and .env. Defaults to the working directory." type:"path" env:"CONFIG_DIR"`

	Serve serveCmd `cmd:"" default:"1" help:"Run the dashboard HTTP server."`
	Fetch fetchCmd `cmd:"" help:"Fetch current conditions (and optionally a forecast) once and print them as JSON."`
}

type globals struct {
	dir    string
	logger *zap.Logger
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("weather-dashboard"),
		kong.Description("Weather dashboard service."),
		kong.UsageOnError(),
	)

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	err = kctx.Run(&globals{dir: c.Dir, logger: logger})
	kctx.FatalIfErrorf(err)
}
