// Transync - real-time speech-to-speech translation into a virtual
// microphone for video calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/transync/internal/config"
	"github.com/teslashibe/transync/internal/log"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "List playback and capture devices, then exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	log.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *listDevices {
		if err := printDevices(ctx, cfg); err != nil {
			log.Error("device listing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	app, err := newApp(ctx, cfg, log.L())
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}
