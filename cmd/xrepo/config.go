package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xrepo/internal/config"
	"xrepo/internal/paths"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage xrepo configuration",
		Long:  "View and manage the configuration stored in .xrepo/config.json",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				return a.printJSON(cfg)
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := paths.ResolveInWorkspace(a.workspace, ".xrepo/config.json")
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := config.DefaultConfig().Save(a.workspace); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Wrote %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "env",
			Short: "List supported environment variables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				vars := config.EnvVars()
				if outputFormat(a.format) == formatJSON {
					return a.printJSON(vars)
				}
				w := table(a.out)
				for _, v := range vars {
					fmt.Fprintf(w, "%s\t%s\n", v.Name, v.Key)
				}
				return w.Flush()
			},
		},
	)
	return cmd
}
