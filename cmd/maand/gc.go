package main

import (
	"fmt"

	"github.com/maand-sh/maand/pkg/storage"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Physically delete soft-deleted KV rows and expired detained hosts",
	Long: `gc removes KV rows that have been soft-deleted past the store's
retention window, and expires hosts that have sat detained for longer than
--max-days, freeing their allocations and KV namespace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootDir(cmd)
		if err != nil {
			return err
		}
		maxDays, _ := cmd.Flags().GetInt("max-days")

		store, err := storage.NewBoltStore(root)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		result, err := store.GC(maxDays)
		if err != nil {
			return fmt.Errorf("gc: %w", err)
		}

		fmt.Printf("GC complete: %d KV rows deleted, %d hosts expired\n", result.KVRowsDeleted, result.HostsExpired)
		return nil
	},
}

func init() {
	gcCmd.Flags().Int("max-days", 30, "retention window in days for soft-deleted rows and detained hosts")
}
