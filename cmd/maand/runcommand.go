package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/maand-sh/maand/pkg/command"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/workspace"
	"github.com/spf13/cobra"
)

var runCommandCmd = &cobra.Command{
	Use:   "run-command",
	Short: "Run an ad-hoc command or script against fleet hosts",
	Long: `run-command executes --cmd (or a script file) on every host
matching --agents/--labels, over ssh unless --local is set. By default
only hosts currently holding an allocation are eligible;
--disable-cluster-check lifts that restriction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}
		agents, _ := cmd.Flags().GetStringSlice("agents")
		labels, _ := cmd.Flags().GetStringSlice("labels")
		inline, _ := cmd.Flags().GetString("cmd")
		local, _ := cmd.Flags().GetBool("local")
		healthCheck, _ := cmd.Flags().GetBool("health_check")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		disableClusterCheck, _ := cmd.Flags().GetBool("disable-cluster-check")

		var file string
		if len(args) == 1 {
			file = args[0]
		}

		config, err := workspace.LoadControllerConfig(filepath.Join(root, "maand.conf"))
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(root)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		tx, err := store.Begin(true)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		bucket, err := tx.GetBucket()
		if err != nil {
			return fmt.Errorf("load bucket: %w", err)
		}
		if bucket == nil {
			return fmt.Errorf("workspace not initialized: run `maand init` first")
		}

		hosts, err := tx.ListHosts()
		if err != nil {
			return fmt.Errorf("list hosts: %w", err)
		}
		allJobs, err := tx.ListJobs()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		agentDir := filepath.Join("/opt", bucket.BucketID)
		opts := command.RunCommandOptions{
			Agents:              agents,
			Labels:              labels,
			Command:             inline,
			File:                file,
			Local:               local,
			HealthCheck:         healthCheck,
			Concurrency:         concurrency,
			DisableClusterCheck: disableClusterCheck,
		}

		if err := command.RunAdHoc(context.Background(), tx, bucket, config, allJobs, hosts, agentDir, opts); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		committed = true

		fmt.Println("run-command complete")
		return nil
	},
}

func init() {
	runCommandCmd.Flags().StringSlice("agents", nil, "restrict to these host IPs")
	runCommandCmd.Flags().StringSlice("labels", nil, "restrict to hosts carrying every listed label")
	runCommandCmd.Flags().String("cmd", "", "inline shell command to run (ignored when a script file argument is given)")
	runCommandCmd.Flags().Bool("local", false, "run on the controller machine instead of over ssh")
	runCommandCmd.Flags().Bool("health_check", false, "gate each target's assigned jobs' health_check hook afterward")
	runCommandCmd.Flags().Int("concurrency", 0, "max concurrent hosts (default: unbounded)")
	runCommandCmd.Flags().Bool("disable-cluster-check", false, "target hosts even if they hold no allocation")
}
