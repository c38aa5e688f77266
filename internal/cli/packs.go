package cli

import (
	"os"

	"github.com/spf13/cobra"

	"flowbench/internal/execx"
	"flowbench/internal/pack"
)

func (a *app) packsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packs",
		Short: "Inspect the pack index and drive the pack tooling",
	}

	var tenant, team, user string
	list := &cobra.Command{
		Use:   "list",
		Short: "List packs resolved for a tenant/team/user scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := pack.BuildIndex(a.cfg.Packs.Root)
			if err != nil {
				return err
			}
			matched, matchedKeys, missingKeys := index.ResolveFor(tenant, team, user)
			return printJSON(map[string]any{
				"packs":        matched,
				"matched_keys": matchedKeys,
				"missing_keys": missingKeys,
			})
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant selector")
	list.Flags().StringVar(&team, "team", "", "team selector")
	list.Flags().StringVar(&user, "user", "", "user selector")

	reload := &cobra.Command{
		Use:   "reload",
		Short: "Rebuild the pack index from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := pack.BuildIndex(a.cfg.Packs.Root)
			if err != nil {
				return err
			}
			a.logger.Info("pack index rebuilt", "pack_count", len(index.Entries))
			return printJSON(map[string]any{"pack_count": len(index.Entries)})
		},
	}

	var artifactsDir, logsDir string
	toolingFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&artifactsDir, "artifacts", ".flowbench/artifacts", "artifacts directory")
		c.Flags().StringVar(&logsDir, "logs", ".flowbench/logs", "tool log directory")
	}
	ensureLogsDir := func() { _ = os.MkdirAll(logsDir, 0o755) }

	build := &cobra.Command{
		Use:   "build <fixture-dir>",
		Short: "Build a pack archive from a fixture directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureLogsDir()
			res, err := pack.Build(cmd.Context(), execx.OSRunner{}, args[0], artifactsDir, logsDir)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	toolingFlags(build)

	verify := &cobra.Command{
		Use:   "verify <archive>",
		Short: "Verify a pack archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureLogsDir()
			res, err := pack.Verify(cmd.Context(), execx.OSRunner{}, args[0], logsDir)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	toolingFlags(verify)

	var target string
	install := &cobra.Command{
		Use:   "install <archive>",
		Short: "Install a pack archive to a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureLogsDir()
			res, err := pack.Install(cmd.Context(), execx.OSRunner{}, target, args[0], artifactsDir, logsDir)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	toolingFlags(install)
	install.Flags().StringVar(&target, "target", "local", "install target")

	cmd.AddCommand(list, reload, build, verify, install)
	return cmd
}
