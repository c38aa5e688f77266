package cli

import (
	"github.com/spf13/cobra"

	"flowbench/internal/scenario"
)

func (a *app) scenarioCmd() *cobra.Command {
	var busURL, observations string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run scripted scenarios against a live bus",
	}

	run := &cobra.Command{
		Use:   "run <file.yaml>",
		Short: "Execute a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			url := busURL
			if url == "" {
				url = a.cfg.Harness.BusURL
			}
			runner := scenario.NewRunner(url, observations)
			defer runner.Close()
			if err := runner.Run(sc); err != nil {
				return err
			}
			a.logger.Info("scenario completed", "name", sc.Name, "steps", len(sc.Steps))
			return nil
		},
	}
	run.Flags().StringVar(&busURL, "bus-url", "", "bus URL (defaults to harness.bus_url)")
	run.Flags().StringVar(&observations, "observations", "observations.jsonl", "observation log path")

	cmd.AddCommand(run)
	return cmd
}
