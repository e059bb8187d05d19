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

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Run the health_check hook against currently deployed allocations",
	Long: `health-check invokes each in-scope job's health_check command
against its active allocations. Without --wait, each allocation gets a
single attempt; with --wait, the standard retry budget applies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}
		jobNames, _ := cmd.Flags().GetStringSlice("jobs")
		wait, _ := cmd.Flags().GetBool("wait")

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

		allJobs, err := tx.ListJobs()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		agentDir := filepath.Join("/opt", bucket.BucketID)
		if err := command.RunHealthCheck(context.Background(), tx, bucket, config, allJobs, jobNames, wait, agentDir); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		committed = true

		fmt.Println("Health check passed")
		return nil
	},
}

func init() {
	healthCheckCmd.Flags().StringSlice("jobs", nil, "restrict to these jobs (default: all jobs with a health_check command)")
	healthCheckCmd.Flags().Bool("wait", false, "retry on failure with the standard gate budget instead of a single attempt")
}
