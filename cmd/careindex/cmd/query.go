package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/careindex/internal/output"
)

func newQueryCmd() *cobra.Command {
	var (
		topKPrimary   int
		topKSecondary int
		jsonOutput    bool
		raw           bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve passages for a question",
		Long: `Retrieve the passages the chatbot would receive for a question: the
closest fiche passages, then web passages that add something the fiches
do not already say.

Fails while the index is being rebuilt.`,
		Example: `  careindex query "comment prévenir les chutes à domicile"

  # The exact block handed to the model
  careindex query --raw "canicule personne âgée"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			retriever, err := a.retriever()
			if err != nil {
				return err
			}
			res, err := retriever.Retrieve(cmd.Context(), strings.Join(args, " "), topKPrimary, topKSecondary)
			if err != nil {
				return err
			}

			switch {
			case jsonOutput:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			case raw:
				_, err := fmt.Fprint(cmd.OutOrStdout(), res.Format())
				return err
			default:
				output.New(cmd.OutOrStdout()).Passages(res)
				return nil
			}
		},
	}

	cmd.Flags().IntVarP(&topKPrimary, "primary", "p", 0, "Number of fiche passages (default from config)")
	cmd.Flags().IntVarP(&topKSecondary, "secondary", "s", 0, "Maximum number of web passages (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the formatted context block")

	return cmd
}
