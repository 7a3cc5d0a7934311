// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/api"
	"github.com/JakeFAU/proxy-harvester/internal/app"
	"github.com/JakeFAU/proxy-harvester/internal/config"
	"github.com/JakeFAU/proxy-harvester/internal/export"
	"github.com/JakeFAU/proxy-harvester/internal/logging"
	"github.com/JakeFAU/proxy-harvester/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application services commands use.
// Tests inject their own factory through newRootCmd.
type App interface {
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Config() config.Config
	Controller() *pipeline.Controller
	Exporter() *export.Exporter
	Server() *api.Server
}

type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger, app.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// configSearchPaths are consulted for harvester.yaml when --config is not given.
var configSearchPaths = []string{".", "/etc/harvester/", "$HOME/.harvester"}

// newRootCmd creates and configures the root command.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests public proxy lists and validates every candidate.",
		Long: `harvester downloads public proxy lists, extracts ip:port candidates,
probes each one through an echo endpoint, and keeps the proxies that answer,
classified by latency, country and anonymity.`,
		SilenceUsage: true,

		// Builds the services after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			closeErr := appInstance.Close(context.WithoutCancel(cmd.Context()))
			_ = appInstance.Logger().Sync()
			return closeErr
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./harvester.yaml if present)")

	cmd.AddCommand(newRunCmd(), newServeCmd())
	return cmd
}

// flagBindings maps command flags onto configuration keys so flags override
// file and environment values.
var flagBindings = map[string]string{
	"sources":     "harvest.sources",
	"batch-size":  "harvest.batch_size",
	"rate":        "harvest.rate_per_second",
	"type":        "validate.proxy_type",
	"timeout":     "validate.timeout_seconds",
	"concurrency": "validate.max_concurrency",
	"country":     "filter.country",
	"anonymity":   "filter.anonymity",
	"speed":       "filter.speed",
	"format":      "export.format",
	"port":        "server.port",
	"store":       "storage.driver",
}

func loadConfig(cmd *cobra.Command, cfgFile string) (config.Config, error) {
	v := viper.New()
	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	if cfgFile == "" {
		v.SetConfigName("harvester")
		for _, p := range configSearchPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return config.Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(defaultAppFactory).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
