package main

import (
	"context"
	"fmt"

	"github.com/maand-sh/maand/pkg/deploy"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Walk deployment tiers and transition allocations on the fleet",
	Long: `deploy walks deployment tiers in ascending order. For each job in
scope it stages files on every assigned host, uploads them over rsync, and
runs the new/changed/unchanged/removed allocations through the
pre_deploy/job_control/health_check/post_deploy hook sequence. Progress
commits per tier.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}
		onlyJobs, _ := cmd.Flags().GetStringSlice("jobs")

		store, err := storage.NewBoltStore(root)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		result, err := deploy.Run(context.Background(), store, root, onlyJobs)
		if err != nil {
			return err
		}

		fmt.Printf("Deploy complete: %d tiers walked, %d jobs deployed\n", result.TiersWalked, result.JobsDeployed)
		return nil
	},
}

func init() {
	deployCmd.Flags().StringSlice("jobs", nil, "restrict the deploy to these jobs (default: all)")
}
