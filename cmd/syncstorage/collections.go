package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Inspect a user's collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every collection a user has written to, with counts and usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		principal, err := principalFromFlags(cmd)
		if err != nil {
			return err
		}
		eng, err := openEngine(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		modified, err := eng.InfoCollections(cmd.Context(), principal)
		if err != nil {
			return err
		}
		counts, err := eng.InfoCollectionCounts(cmd.Context(), principal)
		if err != nil {
			return err
		}
		usage, err := eng.InfoCollectionUsage(cmd.Context(), principal)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(modified))
		for name := range modified {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("%-16s %-14s %8s %10s\n", "collection", "modified", "count", "usage_kb")
		for _, name := range names {
			fmt.Printf("%-16s %-14d %8d %10.1f\n", name, int64(modified[name]), counts[name], usage[name])
		}
		return nil
	},
}

func init() {
	collectionsListCmd.Flags().String("uid", "", "FxA user id to operate on (required)")
	collectionsCmd.AddCommand(collectionsListCmd)
}
