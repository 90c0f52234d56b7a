package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return withConfig(&cobra.Command{
		Use:   "run",
		Short: "Run one watch cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, runErr := a.runner.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(rep); err != nil {
				return err
			}
			return runErr
		},
	})
}
