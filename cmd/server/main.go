package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/log"
	"github.com/nickyhof/GlobalDB/ps"
	"github.com/nickyhof/GlobalDB/ps/pebble"
)

// Version is set at build time via -ldflags
var Version = "dev"

const (
	configF      = "config"
	portF        = "port"
	storeF       = "store"
	baseDirF     = "base-dir"
	gitURLF      = "git-url"
	sqlDSNF      = "sql-dsn"
	logLevelF    = "log-level"
	workersF     = "workers"
	queueSizeF   = "queue-size"
	jwtSecretF   = "jwt-secret"
	jwtIssuerF   = "jwt-issuer"
	jwtAudienceF = "jwt-audience"
	metricsF     = "metrics"
	metricsPortF = "metrics-port"
	tlsCertF     = "tls-cert"
	tlsKeyF      = "tls-key"
)

// Config is the server configuration, read from flags and an optional
// YAML file.
type Config struct {
	Port        uint16 `mapstructure:"port" validate:"required"`
	Store       string `mapstructure:"store" validate:"oneof=git pebble"`
	BaseDir     string `mapstructure:"base-dir"`
	GitURL      string `mapstructure:"git-url"`
	SQLDSN      string `mapstructure:"sql-dsn"`
	LogLevel    string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Workers     int    `mapstructure:"workers" validate:"min=1"`
	QueueSize   int    `mapstructure:"queue-size" validate:"min=0"`
	JWTSecret   string `mapstructure:"jwt-secret"`
	JWTIssuer   string `mapstructure:"jwt-issuer"`
	JWTAudience string `mapstructure:"jwt-audience"`
	Metrics     bool   `mapstructure:"metrics"`
	MetricsPort uint16 `mapstructure:"metrics-port"`
	TLSCert     string `mapstructure:"tls-cert" validate:"required_with=TLSKey"`
	TLSKey      string `mapstructure:"tls-key" validate:"required_with=TLSCert"`
}

var serverIdentity = core.Identity{
	Name:  "GlobalDB Server",
	Email: "server@globaldb.local",
}

func main() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	if err := NewCmd(quit).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// NewCmd builds the server command. The server runs until quit fires.
func NewCmd(quit <-chan os.Signal) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:     "globaldb-server [flags]",
		Short:   "TCP cursor server for GlobalDB.",
		Version: Version,
	}

	cmd.Flags().StringVar(&cfgFile, configF, "", "The yaml configuration file.")
	cmd.Flags().Uint16(portF, 7379, "TCP port to listen on.")
	cmd.Flags().String(storeF, "git", "Globals store: git or pebble.")
	cmd.Flags().String(baseDirF, "", "Directory of the store (memory if empty).")
	cmd.Flags().String(gitURLF, "", "Git URL for remote sync (git store only).")
	cmd.Flags().String(sqlDSNF, "", "DuckDB data source for SQL cursors (in-memory if empty).")
	cmd.Flags().String(logLevelF, "info", "Log level: debug, info, warn or error.")
	cmd.Flags().Int(workersF, 4, "Workers running asynchronous executes.")
	cmd.Flags().Int(queueSizeF, 64, "Asynchronous tasks that may wait for a worker.")
	cmd.Flags().String(jwtSecretF, "", "Shared HS256 secret. Enables authentication when set.")
	cmd.Flags().String(jwtIssuerF, "", "Expected JWT issuer.")
	cmd.Flags().String(jwtAudienceF, "", "Expected JWT audience.")
	cmd.Flags().Bool(metricsF, false, "Serve prometheus metrics on /metrics.")
	cmd.Flags().Uint16(metricsPortF, 9090, "Port of the metrics server.")
	cmd.Flags().String(tlsCertF, "", "TLS certificate file.")
	cmd.Flags().String(tlsKeyF, "", "TLS key file.")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		if cfgFile != "" {
			v.SetConfigType("yaml")
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		}
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		cfg := new(Config)
		if err := v.Unmarshal(cfg); err != nil {
			return err
		}
		if err := Validator().Struct(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return run(cmd.Context(), cfg, cmd.OutOrStdout(), quit)
	}
	return cmd
}

func run(ctx context.Context, cfg *Config, out io.Writer, quit <-chan os.Signal) error {
	logger, err := log.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := sql.Open("duckdb", cfg.SQLDSN)
	if err != nil {
		return fmt.Errorf("failed to open SQL database: %w", err)
	}
	defer db.Close()

	instance, closeStore, err := openInstance(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	defer instance.Close()

	opts := []ServerOption{WithLogger(logger)}
	var metricsServer *http.Server
	if cfg.Metrics {
		m := newMetrics(instance.Pending)
		opts = append(opts, withMetrics(m))
		metricsServer = serveMetrics(fmt.Sprintf(":%d", cfg.MetricsPort), m, logger)
	}

	var server *Server
	if cfg.JWTSecret != "" {
		server = NewServerWithAuth(instance, &AuthConfig{
			Enabled:   true,
			JWTSecret: cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
		}, opts...)
	} else {
		server = NewServer(instance, serverIdentity, opts...)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.TLSCert != "" || cfg.TLSKey != "" {
		err = server.StartTLS(addr, cfg.TLSCert, cfg.TLSKey)
	} else {
		err = server.Start(addr)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "GlobalDB server %s listening on %s (%s store)\n", Version, server.Addr(), cfg.Store)

	select {
	case <-quit:
	case <-ctxDone(ctx):
	}

	logger.Info("Shutting down...")
	server.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info("Server stopped")
	return nil
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

// openInstance opens the configured store. The returned func closes it.
func openInstance(cfg *Config, db *sql.DB, logger *zap.SugaredLogger) (*GlobalDB.Instance, func(), error) {
	opts := []GlobalDB.Option{GlobalDB.WithLogger(logger), GlobalDB.WithWorkers(cfg.Workers, cfg.QueueSize)}

	switch cfg.Store {
	case "", "git":
		var persistence *ps.Persistence
		var err error
		if cfg.BaseDir == "" {
			logger.Info("Using memory persistence")
			persistence, err = ps.NewMemoryPersistence()
		} else {
			logger.Infow("Using file persistence", "dir", cfg.BaseDir)
			var gitURL *string
			if cfg.GitURL != "" {
				gitURL = &cfg.GitURL
			}
			persistence, err = ps.NewFilePersistence(cfg.BaseDir, gitURL)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize persistence: %w", err)
		}
		return GlobalDB.OpenGit(persistence, serverIdentity, db, opts...), func() {}, nil

	case "pebble":
		var store *pebble.Store
		var err error
		if cfg.BaseDir == "" {
			logger.Info("Using in-memory pebble store")
			store, err = pebble.NewMem()
		} else {
			logger.Infow("Using pebble store", "dir", cfg.BaseDir)
			store, err = pebble.New(cfg.BaseDir, logger)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return GlobalDB.Open(store, db, opts...), func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func serveMetrics(addr string, m *metrics, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("Metrics server failed", "err", err)
		}
	}()
	logger.Infow("Serving metrics", "addr", addr)
	return srv
}
