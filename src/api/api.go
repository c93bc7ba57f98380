package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/config"
	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/sweeps"
	"github.com/stake-plus/stakegate/src/api/webserver"
	"github.com/stake-plus/stakegate/src/logging"
)

const programName = "stakegate"

var globalFlags = struct {
	configFile string
	debug      bool
}{}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Development(), globalFlags.debug)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log.With(zap.String("component", programName)), nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(parent context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := newApp(cfg, log, true)
	if err != nil {
		return err
	}
	defer a.close()
	if err := data.Migrate(a.db); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.SweepInterval > 0 {
		go a.sweeps.Loop(ctx, cfg.SweepInterval)
		log.Info("in-process sweeps enabled", zap.Duration("interval", cfg.SweepInterval))
	}

	router := webserver.New(cfg, a.deps())
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		reloader, err := webserver.NewTLSReloader(cfg.TLSCert, cfg.TLSKey, log)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		go reloader.Watch(ctx)
		httpSrv.TLSConfig = reloader.GetConfig()
		go func() { errCh <- httpSrv.ListenAndServeTLS("", "") }()
	} else {
		go func() { errCh <- httpSrv.ListenAndServe() }()
	}
	log.Info("API listening", zap.String("port", cfg.Port), zap.Bool("tls", httpSrv.TLSConfig != nil))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	return httpSrv.Shutdown(shutCtx)
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [expiry|locks|proposals|all]",
		Short:     "Run one sweep and print its report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: sweeps.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			a, err := newApp(cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close()
			rep, err := a.sweeps.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if err := data.Migrate(db); err != nil {
				return err
			}
			log.Info("schema migrated")
			return nil
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Wallet verification, stake locks and governance API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&globalFlags.configFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.AddCommand(serveCommand(), sweepCommand(), migrateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
