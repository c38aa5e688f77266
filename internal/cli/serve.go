package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flowbench/internal/harness"
	"flowbench/internal/pack"
	"flowbench/internal/runnerproxy"
	"flowbench/internal/server"
	"flowbench/internal/tls"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// Any environment provisioned through this process must not
			// outlive it.
			defer harness.ReapAll(context.Background())

			store, err := a.sessionStore(cmd)
			if err != nil {
				return err
			}

			index, err := pack.BuildIndex(a.cfg.Packs.Root)
			if err != nil {
				return err
			}
			proxy := runnerproxy.New(a.logger, index)
			defer proxy.Close()
			proxy.Submit(runnerproxy.ReloadIndex{
				Index: index,
				Defaults: runnerproxy.Defaults{
					Tenant: a.cfg.Defaults.Tenant,
					Team:   a.cfg.Defaults.Team,
				},
			})

			if t := a.cfg.Server.TLS; t.Enable && t.CertFile != "" && t.KeyFile != "" && len(t.Hostnames) > 0 {
				generated, err := tls.EnsureSelfSignedCert(t.CertFile, t.KeyFile, t.Hostnames)
				if err != nil {
					return err
				}
				if generated {
					a.logger.Info("generated self-signed certificate", "cert", t.CertFile)
				}
			}

			srv := server.New(a.logger, a.cfg, store, proxy)
			return srv.Run(ctx)
		},
	}
}
