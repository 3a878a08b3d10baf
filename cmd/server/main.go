package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skypro1111/proximity-audio/internal/config"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/logging"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/server"
	"github.com/skypro1111/proximity-audio/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "proximity-audio"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	modemCfg := cfg.Modem.ToAudio()
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", modemCfg.SampleRate),
		slog.Int("block_size", modemCfg.BlockSize),
		slog.Float64("base_frequency", modemCfg.BaseFrequency),
		slog.Float64("tone_spacing", modemCfg.ToneSpacing),
		slog.Duration("symbol_duration", modemCfg.SymbolDuration()),
		slog.Duration("default_listen_timeout", cfg.Session.GetDefaultListenTimeout()),
		slog.Duration("max_listen_timeout", cfg.Session.GetMaxListenTimeout()),
		slog.String("backend", cfg.Device.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	backend, err := newBackend(cfg)
	if err != nil {
		logger.Error("Failed to create audio backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	controller, err := session.NewController(backend, cfg.ToSession(), logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create session controller", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session controller initialized",
		slog.String("backend", backend.Name()),
		slog.Int("sample_rate", backend.SampleRate()),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, controller, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()

	logger.Info("Starting graceful shutdown...")

	// Stop the controller first so in-flight listen requests return promptly
	if err := controller.Close(); err != nil {
		logger.Error("Error closing session controller", slog.String("error", err.Error()))
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeout())
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	status := controller.Status()
	logger.Info("Final session statistics",
		slog.Uint64("sessions_started", status.SessionsStarted),
		slog.Uint64("sessions_rejected", status.SessionsRejected),
		slog.Uint64("frames_emitted", status.FramesEmitted),
		slog.Uint64("frames_received", status.FramesReceived),
	)

	logger.Info("Service stopped")
}

// newBackend builds the configured audio backend. The air backend gives the
// daemon a private medium; it hears only itself and is meant for smoke tests.
func newBackend(cfg *config.Config) (device.Backend, error) {
	rate := cfg.Modem.SampleRate

	switch cfg.Device.Backend {
	case "air":
		air, err := device.NewAir(device.AirConfig{
			SampleRate: rate,
			NoiseLevel: cfg.Device.Air.NoiseLevel,
			DropEvery:  cfg.Device.Air.DropEvery,
			Retention:  cfg.Device.Air.GetRetention(),
			Seed:       cfg.Device.Air.Seed,
		})
		if err != nil {
			return nil, err
		}
		return air.Endpoint(cfg.Device.Name), nil
	case "wav":
		wav, err := device.NewWAVBackend(device.WAVConfig{
			SampleRate: rate,
			OutputDir:  cfg.Device.WAV.OutputDir,
			InputPath:  cfg.Device.WAV.InputPath,
		})
		if err != nil {
			return nil, err
		}
		return wav, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Device.Backend)
	}
}
