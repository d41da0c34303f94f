package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func tokenCmd(opts *rootOptions) *cobra.Command {
	var userAgent string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Request a session token and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.client().SessionToken(cmd.Context(), userAgent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userAgent, "user-agent", "livenesscheck-cli/1.0", "user agent reported to the service")
	return cmd
}
