package main

import (
	"context"
	"fmt"

	"github.com/maand-sh/maand/pkg/build"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Reconcile inventory and jobs into allocations and certificates",
	Long: `build runs the reconciliation pipeline: inventory ingestion, job
manifest ingestion, label-based assignment, validation, variable
composition, and certificate issuance, followed by the post_build hook.
Nothing is committed until the entire pipeline succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(root)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		result, err := build.Run(context.Background(), store, root)
		if err != nil {
			return err
		}

		fmt.Printf("Build complete: %d hosts, %d jobs, %d allocations\n",
			len(result.Hosts), len(result.Jobs), len(result.Allocations))
		if result.Certs.CARotated {
			fmt.Println("Cluster CA rotated")
		}
		fmt.Printf("Certificates issued: %d host, %d job\n", result.Certs.HostCertsIssued, result.Certs.JobCertsIssued)
		return nil
	},
}
