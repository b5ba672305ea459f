package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/capscan/probe"
)

var probeCmd = &cobra.Command{
	Use:    probe.WorkerCommand,
	Short:  "Run the probe sandbox worker on stdin and stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	// The worker reads no configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe.Serve(cmd.Context(), os.Stdin, os.Stdout)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the embedded module manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := probe.ManifestSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return err
	},
}
