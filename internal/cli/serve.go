package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphvault/graphvault/internal/api"
	"github.com/graphvault/graphvault/internal/authflow"
	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/cryptox"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/metrics"
	"github.com/graphvault/graphvault/internal/msauth"
	"github.com/graphvault/graphvault/internal/store"
	"github.com/graphvault/graphvault/internal/telegram"
	"github.com/graphvault/graphvault/internal/token"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the GraphVault server",
	Long: `Start the GraphVault server in main mode.

This command starts the HTTP server that drives the Microsoft sign-in
flow, stores credentials encrypted at rest, and hands valid bearer
tokens to authenticated internal callers.

Example:
  graphvault serve --config config.yaml --db ./data/graphvault.db

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("GRAPHVAULT_SHUTDOWN_TIMEOUT", 30*time.Second), "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting GraphVault server...")
		log.Printf("Config path: %s", globalFlags.Config)
		log.Printf("Database path: %s", globalFlags.DBPath)
	}

	// Load configuration
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply CLI flags to config
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}

	logger := logging.NewLogger(logging.WithLevel(logging.ParseLevel(cfg.Server.LogLevel)))

	// The encryption key is validated here, at startup, never at first use.
	codec, err := cryptox.NewCodec(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	storeOpts := []store.SQLiteOption{
		store.WithExpiryMargin(cfg.Encryption.EffectiveExpiryMargin()),
		store.WithLogger(logger),
	}
	if cfg.Audit.Enabled && cfg.Audit.RetentionDays > 0 {
		storeOpts = append(storeOpts, store.WithRetentionDays(cfg.Audit.RetentionDays))
	}
	sqliteStore, err := store.NewSQLiteStore(globalFlags.DBPath, codec, storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %w", err)
	}

	if globalFlags.Verbose {
		log.Printf("Database initialized at: %s", globalFlags.DBPath)
	}

	provider := msauth.NewClient(cfg.Provider)
	m := metrics.NewMetrics("graphvault")
	notifier := telegram.NewNotifier(cfg.Telegram, logger)

	managerOpts := []token.Option{
		token.WithLogger(logger),
		token.WithMetrics(m),
	}
	if cfg.Audit.Enabled {
		managerOpts = append(managerOpts, token.WithAuditSink(sqliteStore))
	}
	if notifier != nil {
		managerOpts = append(managerOpts, token.WithNotifier(notifier))
	}
	manager := token.NewManager(sqliteStore, provider, codec, managerOpts...)

	flowOpts := []authflow.Option{
		authflow.WithLogger(logger),
		authflow.WithMetrics(m),
	}
	if cfg.Audit.Enabled {
		flowOpts = append(flowOpts, authflow.WithAuditSink(sqliteStore))
	}
	flow := authflow.NewFlow(provider, manager, flowOpts...)

	// Create API server
	server := api.NewServer(cfg.Server, cfg.API, manager, flow, sqliteStore, m, logger)

	// Watch the config file so operators see edits acknowledged. Provider
	// and encryption settings need a restart; the watcher only reports.
	loader.SetOnChange(func(next *config.Config) {
		logger.Info("configuration file reloaded",
			"version", next.Version,
			"note", "provider and encryption changes take effect on restart",
		)
	})
	if err := loader.StartWatcher(); err != nil {
		logger.Warn("config watcher unavailable", "error", err.Error())
	}
	defer loader.StopWatcher()

	setupGracefulShutdown(server, serveFlags.Timeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	log.Printf("Starting GraphVault HTTP server on %s", addr)
	log.Printf("Database: %s (WAL mode enabled)", globalFlags.DBPath)

	if err := server.Run(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// setupGracefulShutdown handles graceful shutdown on SIGINT/SIGTERM
func setupGracefulShutdown(server *api.Server, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log.Println("Shutting down API server...")
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}
