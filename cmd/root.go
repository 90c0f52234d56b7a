package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/huru0825/kenpo-watcher/internal/config"
	"github.com/huru0825/kenpo-watcher/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// needsConfig marks commands that load and validate configuration before
// running.
const needsConfig = "needs-config"

type rootOptions struct {
	cfgFile string

	cfg config.Config
	log *zap.Logger
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "kenpowatch",
		Short:         "Watches the kenpo facility calendar and notifies when a matching slot opens",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[needsConfig] == "" {
				return nil
			}
			cfg, err := config.Load(viper.New(), opts.cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "kenpo-watcher"})
				return fmt.Errorf("invalid configuration: %w", err)
			}
			observability.InitializeLogger(cfg.Logger)
			opts.cfg = cfg
			opts.log = observability.GetLogger()
			opts.log.Info("starting kenpo-watcher", zap.String("version", Version), zap.String("command", cmd.Name()))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCookiesCmd(opts))

	return root
}

// Execute runs the command tree. ctx is cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		// cancellation on shutdown is not a failure worth printing
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func withConfig(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[needsConfig] = "true"
	return cmd
}
