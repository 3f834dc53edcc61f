package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/common/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "remrinctl "+version.Info())
		},
	}
}
