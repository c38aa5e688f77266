package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowbench/internal/session"
)

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and mutate the session store",
	}

	var tenant, team, user string
	scopeFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&tenant, "tenant", "", "tenant selector")
		c.Flags().StringVar(&team, "team", "", "team selector")
		c.Flags().StringVar(&user, "user", "", "user selector")
	}
	filter := func() session.Filter {
		return session.Filter{Tenant: tenant, Team: team, User: user}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions matching the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sessionStore(cmd)
			if err != nil {
				return err
			}
			records, err := store.List(cmd.Context(), filter())
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	scopeFlags(list)

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove sessions matching the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := filter()
			if f.Tenant == "" && f.Team == "" && f.User == "" {
				f.Tenant = a.cfg.Defaults.Tenant
				f.Team = a.cfg.Defaults.Team
			}
			store, err := a.sessionStore(cmd)
			if err != nil {
				return err
			}
			removed, err := store.Purge(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"removed": removed})
		},
	}
	scopeFlags(purge)

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume (and consume) the first session matching the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sessionStore(cmd)
			if err != nil {
				return err
			}
			record, err := store.Find(cmd.Context(), filter())
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("resume: %w", session.ErrNotFound)
			}
			if err := store.Remove(cmd.Context(), record.Key); err != nil {
				return err
			}
			return printJSON(record)
		},
	}
	scopeFlags(resume)

	cmd.AddCommand(list, purge, resume)
	return cmd
}
