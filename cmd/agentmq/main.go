package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-agentmq/pkg/mcpserver"
	"github.com/illmade-knight/go-agentmq/pkg/messagequeue"
	"github.com/illmade-knight/go-agentmq/pkg/microservice"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	var (
		configPath string
		logLevel   string
		logFile    string
		httpPort   string
	)

	app := &cli.Command{
		Name:      "agentmq",
		Usage:     "In-memory message queue for multi-agent coordination",
		UsageText: "agentmq [global options]",
		Description: `Agentmq speaks MCP over stdin/stdout so agent runtimes can publish,
subscribe and acknowledge messages across named channels. A small HTTP
server exposes health and queue metrics for probes.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("AGENTMQ_CONFIG"),
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("AGENTMQ_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("AGENTMQ_LOG_FILE"),
				Destination: &logFile,
			},
			&cli.StringFlag{
				Name:        "http-port",
				Usage:       "HTTP listen address for health and metrics probes",
				Sources:     cli.EnvVars("AGENTMQ_HTTP_PORT"),
				Destination: &httpPort,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, configPath, logLevel, logFile, httpPort)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "agentmq:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, logLevel, logFile, httpPort string) error {
	cfg, err := microservice.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}

	logger, err := setupLogger(cfg.LogLevel, logFile)
	if err != nil {
		return err
	}

	brokerCfg, err := cfg.BrokerConfig()
	if err != nil {
		return err
	}
	broker := messagequeue.NewBroker(brokerCfg, logger)

	server, err := mcpserver.NewServer(mcpserver.ServerConfig{
		Name:    cfg.ServiceName,
		Version: cfg.ServiceVersion,
	}, broker, logger)
	if err != nil {
		return err
	}

	stdioServer, err := mcpserver.NewStdioServer(server, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}

	queueServer, err := microservice.NewQueueServer(broker, logger, cfg.HTTPPort)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := broker.Start(runCtx); err != nil {
		return err
	}
	if err := queueServer.Start(runCtx); err != nil {
		return err
	}
	if err := stdioServer.Start(runCtx); err != nil {
		return err
	}

	logger.Info().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Str("http_port", queueServer.GetHTTPPort()).
		Msg("Service started.")

	select {
	case <-runCtx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case <-stdioServer.Done():
		logger.Info().Msg("Input stream finished, shutting down.")
	}

	// Unblock a read pending on stdin so the protocol loop can drain.
	_ = os.Stdin.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return stdioServer.Stop(shutdownCtx) })
	g.Go(func() error { return queueServer.Shutdown(shutdownCtx) })
	g.Go(func() error { return broker.Stop(shutdownCtx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("Service stopped.")
	return nil
}

// setupLogger builds the process logger. Stdout carries the JSON-RPC
// stream, so logs always go to stderr and optionally to a file.
func setupLogger(level string, logFile string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
		}

		output = io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, file)
	}

	return zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel), nil
}
