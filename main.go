// main.go
package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pubsubd/config"
	"pubsubd/hub"
	"pubsubd/registry"
	"pubsubd/server"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	host := flag.String("host", "", "bind host (overrides config)")
	port := flag.Int("port", 0, "bind port (overrides config)")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			cfg = config.LoadFromEnv()
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	log := newLogger(cfg)

	reg := registry.New(cfg.MaxConns)
	h := hub.New(reg, log)
	srv := server.New(cfg, h, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	go func() {
		if err := srv.StartHTTP(); err != nil {
			log.Fatal().Err(err).Msg("http sidecar error")
		}
	}()

	log.Info().
		Int("max_conns", cfg.MaxConns).
		Int("queue_size", cfg.QueueSize).
		Int("http_port", cfg.HTTPPort).
		Msg("broker running")

	<-quit
	log.Info().Msg("shutting down...")
	srv.Shutdown()
	log.Info().Msg("broker stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
