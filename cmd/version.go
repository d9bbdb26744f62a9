package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/types"
)

var appVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  "Print the version information for uimap and the map schema it writes",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uimap version %s (map schema %s)\n", appVersion, types.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func SetVersion(version string) {
	appVersion = version
}
