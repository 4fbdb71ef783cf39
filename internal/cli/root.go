// filepath: internal/cli/root.go
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jellyswarrm/internal/audit"
	"jellyswarrm/internal/backendclient"
	"jellyswarrm/internal/config"
	"jellyswarrm/internal/credentials"
	"jellyswarrm/internal/cryptoutil"
	"jellyswarrm/internal/engine"
	"jellyswarrm/internal/httpserver"
	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/logging"
	"jellyswarrm/internal/models"
	"jellyswarrm/internal/registry"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"
	"jellyswarrm/internal/session"
	"jellyswarrm/internal/stream"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

const healthCheckInterval = 60 * time.Second

var (
	cfgFile  string
	dbPath   string
	logLevel string
	port     int
)

// RootCmd starts the proxy's HTTP server. It is the default action when
// jellyswarrm is invoked with no subcommand.
var RootCmd = &cobra.Command{
	Use:   "jellyswarrm",
	Short: "A federated reverse proxy for multiple Jellyfin servers",
	Long:  `Jellyswarrm aggregates several upstream Jellyfin servers behind a single Jellyfin-compatible endpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := repository.NewSQLiteRepository(resolvedDBPath())
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.MigrateUp(); err != nil {
			os.Exit(3)
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back one migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := repository.NewSQLiteRepository(resolvedDBPath())
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.MigrateDown(); err != nil {
			os.Exit(3)
		}
		return nil
	},
}

var cfg *config.Config

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "path to the TOML configuration file")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "jellyswarrm.db", "path to the sqlite database file")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	RootCmd.Flags().IntVar(&port, "port", 0, "override the configured listen port")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	RootCmd.AddCommand(migrateCmd)
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolvedDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "jellyswarrm.db"
}

func loadConfig() error {
	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg = loaded

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if port != 0 {
		cfg.Port = port
	}

	generated := cfg.ServerID == "" || cfg.SessionKey == ""
	if err := cfg.ApplyDefaults(); err != nil {
		return fmt.Errorf("applying configuration defaults: %w", err)
	}
	if generated {
		if err := config.SaveConfig(cfgFile, cfg); err != nil {
			logging.Log.WithError(err).Warn("failed to persist generated config values")
		}
	}

	logging.Init(cfg.Logging.Level)
	return nil
}

// runServer wires every component (spec §2 SYSTEM OVERVIEW's data-flow
// chain) and serves the HTTP surface until an interrupt signal arrives.
func runServer() error {
	repo, err := repository.NewSQLiteRepository(resolvedDBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer repo.Close()

	if err := repo.MigrateUp(); err != nil {
		logging.Log.WithError(err).Error("database migration failed")
		os.Exit(3)
	}

	reg, err := registry.New(repo)
	if err != nil {
		return fmt.Errorf("loading server registry: %w", err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	pool := backendclient.NewPool(reg, repo, cfg.Timeout)

	box, err := cryptoutil.NewBox(cfg.SessionKey)
	if err != nil {
		return fmt.Errorf("initializing credential box: %w", err)
	}

	auditor := audit.NewLoggerAuditor(cfg.Logging.AuditEnabled, func(action, actor, resource string, details map[string]any) {
		if err := repo.CreateAuditLog(&models.AuditLog{
			ID:        ulid.Make().String(),
			Action:    action,
			Actor:     actor,
			Resource:  resource,
			Details:   details,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			logging.Log.WithError(err).Warn("failed to persist audit log entry")
		}
	})

	creds := credentials.New(repo, reg, pool, box, auditor)
	sessions := session.New(repo, reg, pool, creds)
	mapper := idmap.New(repo)
	rw := rewriter.New(mapper, cfg.ServerID)
	eng := engine.New(pool, rw, mapper, repo, auditor, cfg.IncludeServerNameInMedia)
	dispatcher := stream.New(cfg.SessionKey, cfg.MediaStreamingMode)

	server := httpserver.New(cfg, repo, reg, pool, mapper, rw, creds, sessions, eng, dispatcher, auditor)

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	go pool.RunHealthChecks(probeCtx, healthCheckInterval)
	defer cancelProbe()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  timeout,
		WriteTimeout: 0, // streamed responses may run far longer than the request timeout
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logging.Log.WithField("addr", addr).Info("jellyswarrm listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-stop
	logging.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Log.WithError(err).Error("server forced to shut down")
		return err
	}
	return nil
}
