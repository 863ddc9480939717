package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/portal-pesantren/portal-sub001/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// envConfigPath names a config file when --config is not given.
const envConfigPath = "PORTAL_CONFIG"

type rootOptions struct {
	configPath string
	logLevel   string
	baseURL    string
	jsonOutput bool

	cfg *platform.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Command-line client for the Portal Pesantren directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $"+envConfigPath+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.baseURL, "api", "", "API base URL, overrides api.base_url")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of tables")

	cmd.AddCommand(
		getSearchCmd(opts),
		getListCmd(opts),
		getGetCmd(opts),
		getFeaturedCmd(opts),
		getPopularCmd(opts),
		getStatsCmd(opts),
		getAboutCmd(opts),
		getLoginCmd(opts),
		getLogoutCmd(opts),
		getWhoamiCmd(opts),
		getMigrateCmd(opts),
		getDevserverCmd(),
		getVersionCmd(),
	)
	return cmd
}

// load reads the configuration, applies flag overrides and installs the
// default logger.
func (o *rootOptions) load(stderr io.Writer) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv(envConfigPath)
	}

	cfg := platform.DefaultConfig()
	if path != "" {
		loaded, err := platform.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.baseURL != "" {
		cfg.API.BaseURL = o.baseURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	return nil
}

// withPlatform runs fn against a started platform and closes it afterwards.
func (o *rootOptions) withPlatform(ctx context.Context, fn func(*platform.Platform) error) error {
	p, err := platform.New(platform.WithConfig(o.cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("closing platform", "error", err)
		}
	}()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	return fn(p)
}

func getVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "portal version %s\n", Version)
			return err
		},
	}
}
