package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	version = "roomdb 0.1"
)

func init() {
	roomdbCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Roomdb",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
