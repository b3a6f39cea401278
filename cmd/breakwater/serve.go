package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/config"
	"github.com/helixml/breakwater/pkg/metrics"
	"github.com/helixml/breakwater/pkg/server"
	"github.com/helixml/breakwater/pkg/sinks/vnc"
	"github.com/helixml/breakwater/pkg/statistics"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddress             string
		width                     int
		height                    int
		networkBufferSize         int
		connectionsPerIP          int
		logLevel                  string
		prometheusListenAddress   string
		statisticsSaveFile        string
		statisticsSaveInterval    time.Duration
		disableStatisticsSaveFile bool
		vncEnabled                bool
		vncListenAddress          string
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Pixelflut server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("listen-address") {
				cfg.Server.ListenAddress = listenAddress
			}
			if flags.Changed("width") {
				cfg.Canvas.Width = width
			}
			if flags.Changed("height") {
				cfg.Canvas.Height = height
			}
			if flags.Changed("network-buffer-size") {
				cfg.Server.NetworkBufferSize = networkBufferSize
			}
			if flags.Changed("connections-per-ip") {
				cfg.Server.ConnectionsPerIP = connectionsPerIP
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("prometheus-listen-address") {
				cfg.Metrics.ListenAddress = prometheusListenAddress
			}
			if flags.Changed("statistics-save-file") {
				cfg.Statistics.SaveFile = statisticsSaveFile
			}
			if flags.Changed("statistics-save-interval") {
				cfg.Statistics.SaveIntervalSec = int(statisticsSaveInterval.Seconds())
			}
			if flags.Changed("disable-statistics-save-file") {
				cfg.Statistics.DisableSaveFile = disableStatisticsSaveFile
			}
			if flags.Changed("vnc") {
				cfg.VNC.Enabled = vncEnabled
			}
			if flags.Changed("vnc-listen-address") {
				cfg.VNC.ListenAddress = vncListenAddress
			}

			return serve(cmd.Context(), cfg)
		},
	}

	f := serveCmd.Flags()
	f.StringVar(&listenAddress, "listen-address", "[::]:1234", "TCP bind address")
	f.IntVar(&width, "width", 1280, "canvas width")
	f.IntVar(&height, "height", 720, "canvas height")
	f.IntVar(&networkBufferSize, "network-buffer-size", 262144, "per-connection receive buffer size")
	f.IntVar(&connectionsPerIP, "connections-per-ip", 0, "max simultaneous connections per client IP, 0 = unlimited")
	f.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&prometheusListenAddress, "prometheus-listen-address", "[::]:9100", "Prometheus /metrics + admin HTTP bind address")
	f.StringVar(&statisticsSaveFile, "statistics-save-file", "statistics.json", "periodic statistics snapshot persistence path")
	f.DurationVar(&statisticsSaveInterval, "statistics-save-interval", 10*time.Second, "statistics save cadence")
	f.BoolVar(&disableStatisticsSaveFile, "disable-statistics-save-file", false, "disable statistics persistence")
	f.BoolVar(&vncEnabled, "vnc", false, "enable the VNC display sink")
	f.StringVar(&vncListenAddress, "vnc-listen-address", "[::]:5900", "VNC sink bind address")

	return serveCmd
}

func setupLogging(levelName string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func serve(ctx context.Context, cfg config.Config) error {
	setupLogging(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var fb *canvas.Framebuffer
	var err error
	if cfg.Canvas.SharedMemoryDir != "" {
		fb, err = canvas.NewShared(cfg.Canvas.Width, cfg.Canvas.Height, cfg.Canvas.SharedMemoryDir, "breakwater.fb")
	} else {
		fb, err = canvas.New(cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if err != nil {
		return fmt.Errorf("allocating framebuffer: %w", err)
	}

	stats := statistics.New(cfg.Statistics.SaveFile, time.Duration(cfg.Statistics.SaveIntervalSec)*time.Second, !cfg.Statistics.DisableSaveFile, log.Logger)

	listener, err := server.NewListener(cfg.Server, fb, stats)
	if err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}

	exporter := metrics.New(cfg.Metrics.ListenAddress, fb)
	metricsSub := stats.Subscribe()
	defer stats.Unsubscribe(metricsSub)

	errCh := make(chan error, 4)

	go func() { errCh <- stats.Run(ctx) }()
	go func() { errCh <- listener.Run(ctx) }()
	go func() { errCh <- exporter.Run(ctx, metricsSub) }()

	if cfg.VNC.Enabled {
		sink := vnc.New(cfg.VNC.ListenAddress, cfg.VNC.FPS)
		go func() { errCh <- sink.Run(ctx, fb, nil) }()
	}

	log.Info().
		Str("listen_address", cfg.Server.ListenAddress).
		Int("width", cfg.Canvas.Width).
		Int("height", cfg.Canvas.Height).
		Str("goos", runtime.GOOS).
		Msg("breakwater started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("subsystem exited with error")
			cancel()
			return err
		}
	}

	<-ctx.Done()
	return nil
}
