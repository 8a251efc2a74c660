package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphmind-ai/graphmind/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		deps, _ := cmd.Flags().GetBool("deps")
		if deps {
			fmt.Println(version.Report())
			return
		}
		fmt.Println(version.Current().String())
	},
}

func init() {
	versionCmd.Flags().Bool("deps", false, "include resolved module dependencies")
	RootCmd.AddCommand(versionCmd)
}
