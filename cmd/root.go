package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agrinova",
	Short: "Agrinova agricultural assistant backend",
	Long: `Agrinova backend: authenticated plant-disease diagnosis with scan
history, plus weather, assistant, and market price lookups.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
