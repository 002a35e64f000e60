package main

import (
	"flag"
	"os"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/config"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/app"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

var configPath = flag.String("config", "config.json", "relay configuration file")

func main() {
	flag.Parse()
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		*configPath = envPath
	}

	cfg := config.MustReadConfig(*configPath)
	log := logger.NewLogger(cfg.LogLevel, cfg.LogFile).WithModule("relay")

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("relay init (config %s): %v", *configPath, err)
	}

	log.Infof("chat relay listening on :%d (nats %s, redis %s)", cfg.Port, cfg.NATSURL, cfg.RedisURL)

	// Blocks until shutdown or a fatal serve error.
	if err := application.Start(); err != nil {
		log.Fatalf("relay stopped: %v", err)
	}
}
