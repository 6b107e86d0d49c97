package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/pkg/log"
)

// purgeCmd wraps DeleteAll. The periodic expired-row and tombstone sweep
// is a separate daemon in production and out of scope for this CLI; what
// this does is the one operation an operator actually needs by hand: wipe
// every collection belonging to an account, for account deletion or
// support requests.
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all stored data for an account",
}

var purgeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Delete every collection and BSO belonging to --uid",
	RunE: func(cmd *cobra.Command, args []string) error {
		principal, err := principalFromFlags(cmd)
		if err != nil {
			return err
		}
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("refusing to purge %s without --yes", principal.FxaUID)
		}

		eng, err := openEngine(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.DeleteAll(cmd.Context(), principal); err != nil {
			return err
		}
		log.WithUser(principal.FxaUID).Info().Msg("purged all data for account")
		return nil
	},
}

func init() {
	purgeRunCmd.Flags().String("uid", "", "FxA user id to purge (required)")
	purgeRunCmd.Flags().Bool("yes", false, "confirm the destructive purge")
	purgeCmd.AddCommand(purgeRunCmd)
}
