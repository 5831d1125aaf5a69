package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xrepo/internal/repos"
)

func newRepoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the workspace repository registry",
		Long: `Manage the repositories of this workspace.

The registry lives in .xrepo/xrepo.toml under the workspace directory. A
repository's ID is the prefix used in paths such as "billing/api/charge.go"
and the namespace of its symbols in the graph.`,
	}
	cmd.AddCommand(
		newRepoAddCmd(a),
		newRepoRemoveCmd(a),
		newRepoRenameCmd(a),
		newRepoListCmd(a),
		newRepoUseCmd(a),
	)
	return cmd
}

func newRepoAddCmd(a *app) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "add [id] [path]",
		Short: "Register a repository",
		Long: `Register a repository in the workspace.

If path is omitted, uses the current working directory.
If id is omitted, uses the directory name.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id, path string
			switch len(args) {
			case 0, 1:
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current directory: %w", err)
				}
				path = cwd
				id = filepath.Base(cwd)
				if len(args) == 1 {
					id = args[0]
				}
			case 2:
				id, path = args[0], args[1]
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, _, done, err := a.openSession(cmd, cfg, openOptions{})
			if err != nil {
				return err
			}
			defer done()

			repo, err := s.RegisterRepo(id, path, tags)
			if err != nil {
				return err
			}
			if outputFormat(a.format) == formatJSON {
				return a.printJSON(repo)
			}
			fmt.Fprintf(a.out, "Added %s\n", repo.ID)
			fmt.Fprintf(a.out, "  Path: %s\n", repo.RootPath)
			fmt.Fprintf(a.out, "  Status: %s\n", s.Registry().ValidateState(repo.ID))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag the repository (repeatable)")
	return cmd
}

func newRepoRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Unregister a repository and drop its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, _, done, err := a.openSession(cmd, cfg, openOptions{restore: true})
			if err != nil {
				return err
			}
			defer done()

			if err := s.Forget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %s\n", args[0])
			return nil
		},
	}
}

func newRepoRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a repository",
		Long: `Rename a repository ID. The graph is keyed by ID, so rebuild it afterwards
with "xrepo graph build --force".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, newID := args[0], args[1]
			reg, err := repos.LoadManifest(a.workspace)
			if err != nil {
				return err
			}
			if err := reg.Rename(oldID, newID); err != nil {
				return err
			}
			if err := repos.SaveManifest(a.workspace, reg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Renamed %s -> %s\n", oldID, newID)
			return nil
		},
	}
}

func newRepoListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := repos.LoadManifest(a.workspace)
			if err != nil {
				return err
			}
			entries := reg.List()

			if outputFormat(a.format) == formatJSON {
				type repoInfo struct {
					repos.Repository
					State  repos.RepoState `json:"state"`
					Active bool            `json:"active"`
				}
				infos := make([]repoInfo, 0, len(entries))
				for _, e := range entries {
					infos = append(infos, repoInfo{
						Repository: e,
						State:      reg.ValidateState(e.ID),
						Active:     e.ID == reg.Active(),
					})
				}
				return a.printJSON(infos)
			}

			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No repositories registered.")
				fmt.Fprintln(a.out, "Use 'xrepo repo add <id> <path>' to register one.")
				return nil
			}
			w := table(a.out)
			fmt.Fprintln(w, "ID\tSTATE\tREVISION\tPATH")
			for _, e := range entries {
				id := e.ID
				if id == reg.Active() {
					id += " *"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, reg.ValidateState(e.ID), truncate(e.Revision, 12), e.RootPath)
			}
			return w.Flush()
		},
	}
}

func newRepoUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the active repository for unprefixed paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, _, done, err := a.openSession(cmd, cfg, openOptions{})
			if err != nil {
				return err
			}
			defer done()

			if err := s.SetActive(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Active repository set to: %s\n", args[0])
			return nil
		},
	}
}
