package main

import (
	"github.com/spf13/cobra"

	"github.com/rewired-gh/kundlicore/internal/content"
)

var schemaCmd = &cobra.Command{
	Use:         "schema",
	Short:       "Print the JSON Schema of a variant bundle",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := content.SchemaJSON()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	},
}
