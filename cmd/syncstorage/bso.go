package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

var bsoCmd = &cobra.Command{
	Use:   "bso",
	Short: "Inspect and mutate individual basic storage objects",
}

var bsoGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Fetch a single BSO",
	Args:  cobra.ExactArgs(2),
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

		bso, err := eng.GetBSO(cmd.Context(), principal, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("id:        %s\n", bso.ID)
		fmt.Printf("modified:  %d\n", int64(bso.Modified))
		fmt.Printf("sortindex: %d\n", bso.SortIndex)
		fmt.Printf("expiry:    %d\n", int64(bso.Expiry))
		fmt.Printf("payload:   %s\n", bso.Payload)
		return nil
	},
}

var bsoPutCmd = &cobra.Command{
	Use:   "put <collection> <id> <payload>",
	Short: "Create or update a BSO's payload",
	Args:  cobra.ExactArgs(3),
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

		payload := args[2]
		modified, err := eng.PutBSO(cmd.Context(), principal, args[0], types.BSOInput{
			ID:      args[1],
			Payload: &payload,
		}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("collection modified: %d\n", int64(modified))
		return nil
	},
}

var bsoDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a single BSO",
	Args:  cobra.ExactArgs(2),
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

		modified, err := eng.DeleteBSO(cmd.Context(), principal, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("collection modified: %d\n", int64(modified))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{bsoGetCmd, bsoPutCmd, bsoDeleteCmd} {
		c.Flags().String("uid", "", "FxA user id to operate on (required)")
	}
	bsoCmd.AddCommand(bsoGetCmd, bsoPutCmd, bsoDeleteCmd)
}
