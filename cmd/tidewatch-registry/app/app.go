package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidewatch-io/tidewatch/cmd/tidewatch-registry/app/options"
	"github.com/tidewatch-io/tidewatch/internal/registry"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	genericoptions "github.com/tidewatch-io/tidewatch/pkg/options"
)

// NewRegistryCommand builds the root command of the firmware registry.
func NewRegistryCommand() *cobra.Command {
	opts := options.NewRegistryOptions()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "tidewatch-registry",
		Long:         "The Tidewatch registry serves firmware images to devices over the device HTTP API, backed by an S3-compatible object store.",
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

	return cmd
}

func run(cfg *registry.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := registry.NewServer(cfg)
	if err != nil {
		log.Error(err, "Failed to assemble the registry")
		return err
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "Registry exited with an error")
		return err
	}
	log.Info("Registry stopped")
	return nil
}
