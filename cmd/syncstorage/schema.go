package main

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/pkg/log"
)

// schemaCmd applies the backend's schema. For bolt this just creates the
// data file's buckets; for the SQL backends the constructors already apply
// DDL on open, and the Spanner backend expects its tables to exist already
// and applies no DDL, so this command mainly exists to let an
// operator pre-provision a backend before pointing a server at it, and to
// fail fast if the connection string is wrong.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage backend schema",
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the storage backend's schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		log.Info("schema initialized")
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaInitCmd)
}
