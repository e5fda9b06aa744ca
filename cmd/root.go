// Package cmd defines and implements the CLI commands for the posterwatch
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/app"
	"github.com/JakeFAU/posterwatch/internal/config"
	"github.com/JakeFAU/posterwatch/internal/loader"
	"github.com/JakeFAU/posterwatch/internal/logging"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that run without application services.
const skipApp = "skip-app"

// App defines the application interface that commands will use.
type App interface {
	Logger() *zap.Logger
	Service() *app.Service
	NewLoader(ref poster.ResourceRef, listeners ...loader.Listener) (*loader.Loader, error)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it to inject a prober.
var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, server.WithLogger(logger))
}

type rootOptions struct {
	configFile string
	logLevel   string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Audit and load movie poster images through an optimizing proxy.",
		Long: `posterwatch keeps a movie catalog's posters healthy. It loads each poster
through an image-optimizing proxy and falls back to the origin when the proxy
is slow or failing, and it scans the whole catalog to report which origin
images are unreachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logOpts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
			if cmd.Name() != "serve" {
				logOpts = append(logOpts, logging.WithStderr())
			}
			logger, err := logging.New(cfg.Logging.Development, logOpts...)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
				return fmt.Errorf("close application: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default is "+config.DefaultConfigDir()+"/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
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
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
