package main

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/blitz/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		return nil, err
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = defaultInstanceID()
	}
	return cfg, nil
}

// defaultInstanceID is unique per process so a restarted instance never
// inherits the live claims of its previous run.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "blitz"
	}
	return host + "-" + strings.SplitN(uuid.New().String(), "-", 2)[0]
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
