package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xrepo/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat(a.format) == formatJSON {
				return a.printJSON(map[string]string{
					"version":   version.Version,
					"commit":    version.Commit,
					"buildDate": version.BuildDate,
				})
			}
			_, err := fmt.Fprintln(a.out, version.Full())
			return err
		},
	}
}
