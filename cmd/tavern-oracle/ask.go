package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/upb/tavern-oracle/services/orchestrator"
	"github.com/upb/tavern-oracle/services/providers"
)

func askCmd() *cobra.Command {
	var (
		provider     string
		systemPrompt string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one player line through the provider chain",
		Long: `Send one player line through the same chain the API uses and print the reply.

Examples:
  tavern-oracle ask "Any work for a sellsword?"
  tavern-oracle ask --provider cerebras "What's on tap tonight?"
  tavern-oracle ask --json "Tell me about the dragon"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			deps, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer deps.Close(ctx)

			result := deps.Orchestrator.Complete(ctx,
				[]providers.Message{{Role: "user", Content: strings.Join(args, " ")}},
				orchestrator.GenerationOptions{
					PreferredProvider: provider,
					SystemPrompt:      systemPrompt,
				})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Fprintln(out, result.Content)
			fmt.Fprintf(out, "\n(%s, %dms", result.Provider, result.LatencyMs)
			if result.Cached {
				fmt.Fprint(out, ", cached")
			}
			if result.Error != "" {
				fmt.Fprintf(out, ", degraded: %s", result.Error)
			}
			fmt.Fprintln(out, ")")
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Try this provider first")
	cmd.Flags().StringVarP(&systemPrompt, "system", "s", "", "Character system prompt")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")

	return cmd
}
