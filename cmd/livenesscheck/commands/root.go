package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/config"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/verifyclient"
)

type rootOptions struct {
	baseURL   string
	deviceKey string
	verbose   bool

	cfg    config.Client
	logger *zap.Logger
}

func (o *rootOptions) client() *verifyclient.Client {
	return verifyclient.NewClient(o.cfg.BaseURL, o.cfg.DeviceKey, o.logger, verifyclient.WithTimeout(o.cfg.HTTPTimeout))
}

// Execute runs the CLI until the command finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "livenesscheck",
		Short:         "Run liveness checks against the verification service",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if opts.baseURL != "" {
				cfg.BaseURL = opts.baseURL
			}
			if opts.deviceKey != "" {
				cfg.DeviceKey = opts.deviceKey
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.cfg = cfg

			if opts.logger == nil {
				logger, err := logging.NewConsoleLogger(opts.verbose)
				if err != nil {
					return err
				}
				opts.logger = logger
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "verification service base URL (default $LIVENESS_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.deviceKey, "device-key", "", "device key sent with every request (default $LIVENESS_DEVICE_KEY)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(runCmd(opts), tokenCmd(opts))
	return root
}
