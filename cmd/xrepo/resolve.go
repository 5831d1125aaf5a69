package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xrepo/internal/paths"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <repo/path>...",
		Short: "Show how repo-prefixed paths resolve",
		Args:  cobra.MinimumNArgs(1),
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

			type resolved struct {
				Input   string `json:"input"`
				Repo    string `json:"repo"`
				Path    string `json:"path"`
				Abs     string `json:"abs"`
				Exists  bool   `json:"exists"`
				Warning string `json:"warning,omitempty"`
			}
			var results []resolved
			for _, arg := range args {
				res, err := s.Resolve(arg)
				if err != nil {
					return err
				}
				repo, err := s.Registry().Get(res.RepoID)
				if err != nil {
					return err
				}
				r := resolved{Input: arg, Repo: res.RepoID, Path: res.RelPath, Abs: paths.JoinRepoPath(repo.RootPath, res.RelPath)}
				_, statErr := os.Stat(r.Abs)
				r.Exists = statErr == nil
				if res.Warning != nil {
					r.Warning = res.Warning.String()
				}
				results = append(results, r)
			}

			if outputFormat(a.format) == formatJSON {
				return a.printJSON(map[string]any{"active": s.ActiveRepo(), "paths": results})
			}
			w := table(a.out)
			for _, r := range results {
				state := "ok"
				if !r.Exists {
					state = "missing"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Input, r.Repo, r.Path, state)
				if r.Warning != "" {
					fmt.Fprintf(w, "\twarning: %s\t\t\n", r.Warning)
				}
			}
			return w.Flush()
		},
	}
}
