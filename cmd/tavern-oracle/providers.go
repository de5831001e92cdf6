package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/upb/tavern-oracle/services/orchestrator"
)

func providersCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show configured providers and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			deps, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer deps.Close(ctx)

			out := cmd.OutOrStdout()

			if probe {
				results, err := deps.Orchestrator.ProbeProviders(ctx)
				if err != nil {
					return fmt.Errorf("probe interrupted: %w", err)
				}
				writeProbeResults(out, results)
				fmt.Fprintln(out)
			}

			writeProviderStatus(out, deps.Orchestrator.GetProviderStatus())
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Probe every remote provider before printing")

	return cmd
}

func writeProviderStatus(out io.Writer, statuses []orchestrator.ProviderStatusView) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tAVAILABLE\tRATE LIMITED\tCOOLDOWN UNTIL")
	for _, s := range statuses {
		cooldown := "-"
		if s.CooldownUntil != nil {
			cooldown = s.CooldownUntil.Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", s.Name, s.Model, s.Available, s.RateLimited, cooldown)
	}
	_ = tw.Flush()
}

func writeProbeResults(out io.Writer, results []orchestrator.ProbeResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tHEALTHY\tCLASSIFICATION\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Provider, r.Healthy, r.Classification, r.Error)
	}
	_ = tw.Flush()
}
