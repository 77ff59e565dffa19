package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidewatch-io/tidewatch/cmd/tidewatch-agent/app/options"
	"github.com/tidewatch-io/tidewatch/internal/agent"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	genericoptions "github.com/tidewatch-io/tidewatch/pkg/options"
)

// NewAgentCommand builds the root command of the device agent.
func NewAgentCommand() *cobra.Command {
	opts := options.NewAgentOptions()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "tidewatch-agent",
		Long:         "The Tidewatch agent keeps the firmware of a device in sync with the update platform: it listens for update notifications, downloads and verifies images into the inactive slot and reports progress back over the device message bus.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := genericoptions.LoadConfig(cfgFile, cmd.Flags(), opts); err != nil {
				return err
			}
			log.Init(opts.Log)

			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to the YAML configuration file.")
	opts.AddFlags(cmd.Flags())

	cmd.AddCommand(newStatusCommand())

	return cmd
}

func run(cfg *agent.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := cfg.NewAgent()
	if err != nil {
		log.Error(err, "Failed to assemble the agent")
		return err
	}

	// Shutdown propagates through the context; the canceled error that
	// surfaces then is a clean exit, not a failure.
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "Agent exited with an error")
		return err
	}
	log.Info("Agent stopped")
	return nil
}
