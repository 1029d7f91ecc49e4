package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovpn-manager/ovpn-manager/internal/client"
	"github.com/ovpn-manager/ovpn-manager/internal/runner"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const version = "0.1.0"

type options struct {
	serverURL   string
	output      string
	overwrite   bool
	timeout     time.Duration
	userConfig  string
	verbose     bool
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("ovpn-manager-client", pflag.ContinueOnError)

	fs.StringVarP(&opts.serverURL, "server-url", "s", "", "Base URL of the OVPN Manager server")
	fs.StringVarP(&opts.output, "output", "o", "", "Path to save the configuration file")
	fs.BoolVarP(&opts.overwrite, "force", "f", false, "Overwrite the output file if it exists")
	fs.BoolVar(&opts.overwrite, "overwrite", false, "Alias for --force")
	fs.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "How long to wait for the browser login")
	fs.StringVar(&opts.userConfig, "config", client.DefaultUserConfigPath(), "Path to the user configuration file")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("OVPN Manager client v%s\n", version)
		os.Exit(0)
	}

	logger := newLogger(opts.verbose)
	defer logger.Sync()

	fs := afero.NewOsFs()
	cfg, err := client.ResolveConfig(fs, client.Options{
		ServerURL:        opts.serverURL,
		Output:           opts.output,
		Overwrite:        opts.overwrite,
		UserConfigPath:   opts.userConfig,
		SystemConfigPath: client.DefaultSystemConfigPath,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, fs, runner.New(logger), os.Stdout, logger)
	c.SetTimeout(opts.timeout)

	if err := c.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Operation cancelled by user.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapConfig.OutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
