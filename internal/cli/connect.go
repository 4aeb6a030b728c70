package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Perform the handshake and report the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("connect to %s: %w", a.cfg.Gateway.URL, err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "connected to %s as %s\n",
				a.cfg.Gateway.URL, a.cfg.Gateway.Identity.ID)

			return err
		},
	}
}
