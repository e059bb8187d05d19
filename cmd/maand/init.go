package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/maand-sh/maand/pkg/security"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/maand-sh/maand/pkg/workspace"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a new workspace and bootstrap the cluster identity",
	Long: `init creates workspace/agents.json, maand.jobs.conf, maand.vars,
and maand.conf if they don't already exist, then opens the embedded store
and bootstraps the bucket row and cluster CA on first run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}

		if err := workspace.Init(root); err != nil {
			return fmt.Errorf("scaffold workspace: %w", err)
		}

		store, err := storage.NewBoltStore(root)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		tx, err := store.Begin(true)
		if err != nil {
			return fmt.Errorf("begin init transaction: %w", err)
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
		created := false
		if bucket == nil {
			bucket = &types.Bucket{BucketID: uuid.New().String(), UpdateSeq: 0}
			if err := tx.SaveBucket(bucket); err != nil {
				return fmt.Errorf("save bucket: %w", err)
			}
			created = true
		}

		ca := security.NewCertAuthority(tx)
		fingerprint, caCreated, err := ca.LoadOrInit(bucket.BucketID)
		if err != nil {
			return fmt.Errorf("bootstrap CA: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit init transaction: %w", err)
		}
		committed = true

		if created {
			fmt.Printf("Initialized cluster bucket %s\n", bucket.BucketID)
		} else {
			fmt.Printf("Cluster bucket %s already initialized\n", bucket.BucketID)
		}
		if caCreated {
			fmt.Printf("Issued cluster CA (fingerprint %s)\n", fingerprint)
		} else {
			fmt.Printf("Cluster CA already present (fingerprint %s)\n", fingerprint)
		}
		fmt.Printf("Workspace ready at %s\n", filepath.Join(root, "workspace"))
		return nil
	},
}
