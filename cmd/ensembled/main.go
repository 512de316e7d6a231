// Package main is the entry point for the Ensemble synchronized player daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ensembleav/ensemble/internal/config"
	"github.com/ensembleav/ensemble/internal/domain/player"
	"github.com/ensembleav/ensemble/internal/infra/mpd"
	"github.com/ensembleav/ensemble/internal/transport/socketio"
	"github.com/ensembleav/ensemble/internal/version"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config.toml (optional)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port > 0 {
		cfg.HTTP.Port = *port
	}

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Synchronized Multi-Source Player")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.HTTP.Port).
		Int("sources", len(cfg.Sources)).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Bool("password_set", cfg.MPD.Password != "").
		Msg("Configuration")

	if len(cfg.Sources) == 0 {
		log.Fatal().Msg("No sources configured; add [[sources]] entries to config.toml")
	}

	eng := player.NewEngine(player.WithCommandError(func(playerID, op string, err error) {
		log.Warn().Str("player", playerID).Str("op", op).Err(err).Msg("Source command failed")
	}))

	// Build one leaf per configured source, each behind its start offset,
	// and fold them into a single synchronized root.
	leaves := make(map[string]player.Player, len(cfg.Sources))
	children := make([]player.Player, 0, len(cfg.Sources))
	for i, src := range cfg.Sources {
		var leaf player.Player
		switch src.Kind {
		case config.SourceClock:
			leaf = player.NewClock(eng, src.DurationMS)
		case config.SourceMPD:
			backend := mpd.New(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
			leaf = player.NewBackendPlayer(eng, backend)
		}
		name := fmt.Sprintf("%s-%d", src.Kind, i+1)
		leaves[name] = leaf
		children = append(children, player.NewSequentialOffset(eng, leaf, src.OffsetMS))

		log.Info().
			Str("name", name).
			Int64("offset_ms", src.OffsetMS).
			Int64("duration_ms", src.DurationMS).
			Msg("Source configured")
	}

	root, err := player.Combine(eng, children, player.WithDriftCheck(
		time.Duration(cfg.Sync.DriftIntervalMS)*time.Millisecond,
		cfg.Sync.DriftThresholdMS,
	))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build player composition")
	}
	defer root.Close()

	// Create Socket.io server
	socketServer, err := socketio.NewServer(root, leaves, cfg.HTTP.MaxExternalClients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !root.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"initializing"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	// State endpoint (REST fallback for clients without Socket.io)
	mux.HandleFunc("/api/v1/getState", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(socketio.BuildState(root, leaves))
	})

	// Timeline endpoint
	mux.HandleFunc("/api/v1/getTime", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(socketio.BuildTimeline(root))
	})

	// Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
