package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
)

func groupCmd() *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "group <vif>",
		Short: "Show a vif's group membership table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var result ctlproto.ShowGroupResult
			if err := client.Call(ctlproto.OpShowGroup, ctlproto.ShowGroupParams{
				Name: args[0], Family: family,
			}, &result); err != nil {
				return err
			}

			out, err := formatGroups(result.Groups, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "address family: ipv4 or ipv6")
	return cmd
}
