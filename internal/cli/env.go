package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flowbench/internal/execx"
	"flowbench/internal/harness"
)

func (a *app) envCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage ephemeral test environments",
	}

	var name string
	up := &cobra.Command{
		Use:   "up",
		Short: "Provision an environment and hold it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer harness.ReapAll(context.Background())

			resolved := harness.ResolveName(name)
			env, err := harness.Provision(ctx, harness.Options{
				Name:     resolved,
				RootDir:  a.cfg.Harness.RootDir,
				BusURL:   a.cfg.Harness.BusURL,
				StoreURL: a.cfg.Harness.StoreURL,
				Infra: harness.ComposeStack{
					File:    a.cfg.Harness.ComposeFile,
					Project: "flowbench_" + resolved,
					Runner:  execx.OSRunner{},
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info("environment up; press Ctrl-C to tear down",
				"root", env.Root, "bus", env.BusURL, "store", env.StoreURL)

			<-ctx.Done()
			env.Down(context.Background())
			return nil
		},
	}
	up.Flags().StringVar(&name, "name", "", "environment name (sanitized)")

	cmd.AddCommand(up)
	return cmd
}
