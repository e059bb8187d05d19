package main

import (
	"fmt"
	"os"

	"github.com/maand-sh/maand/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "maand",
	Short: "maand - declarative, agentless fleet deployment controller",
	Long: `maand reconciles a workspace of host inventory and job manifests
against an embedded store, assigns jobs to hosts by label, and deploys
them over rsync and ssh with no agent running on the fleet itself.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("maand version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("root", ".", "workspace root directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(healthCheckCmd)
	rootCmd.AddCommand(runCommandCmd)
	rootCmd.AddCommand(gcCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func rootDir(cmd *cobra.Command) (string, error) {
	return cmd.Root().PersistentFlags().GetString("root")
}
