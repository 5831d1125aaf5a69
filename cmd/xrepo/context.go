package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"xrepo/internal/contextwin"
	"xrepo/internal/output"
	"xrepo/internal/session"
)

// contextOutput is the JSON payload of "context build".
type contextOutput struct {
	Added       []session.AddResult       `json:"added"`
	Context     contextwin.UnifiedContext `json:"context"`
	Suggestions []session.Suggestion      `json:"suggestions,omitempty"`
}

// parseFileArg splits "repo/path[:priority]". A suffix that is not an integer
// is part of the path.
func parseFileArg(arg string, fallback int) (string, int) {
	i := strings.LastIndexByte(arg, ':')
	if i <= 0 {
		return arg, fallback
	}
	p, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return arg, fallback
	}
	return arg[:i], p
}

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble token-budgeted context windows",
	}
	cmd.AddCommand(newContextBuildCmd(a))
	return cmd
}

func newContextBuildCmd(a *app) *cobra.Command {
	var (
		query    string
		budget   int
		hops     int
		priority int
		suggest  int
		content  bool
	)
	cmd := &cobra.Command{
		Use:   "build <repo/path[:priority]>...",
		Short: "Add files to a context window, optimize it and print it",
		Long: `Add files to a context window in order, optimize the window for a query and
print the unified context.

Paths are prefixed with the repository ID. A path without a known prefix is
resolved inside the active repository and reported with a warning. Files that
do not fit the remaining budget are skipped.

Examples:
  xrepo context build billing/api/charge.go:5 orders/checkout.py -q "charge flow"
  xrepo context build api/charge.go --budget 2000 --suggest 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("budget") {
				cfg.Context.TokenBudget = budget
			}
			if cmd.Flags().Changed("hops") {
				cfg.Context.DependencyHops = hops
			}
			s, logger, done, err := a.openSession(cmd, cfg, openOptions{restore: true})
			if err != nil {
				return err
			}
			defer done()

			var out contextOutput
			for _, arg := range args {
				path, prio := parseFileArg(arg, priority)
				res, err := s.AddFile(cmd.Context(), path, prio)
				if err != nil {
					return err
				}
				out.Added = append(out.Added, res)
			}
			if query != "" {
				s.Optimize(query)
			}
			out.Context = s.UnifiedContext()

			if suggest > 0 {
				out.Suggestions, err = s.Suggest(cmd.Context(), suggest)
				if err != nil {
					return err
				}
			}
			logger.Debug("Context built",
				"items", len(out.Context.Entries),
				"used", out.Context.UsedTokens,
				"scorer", s.ScorerStats(),
				"files", s.FileCacheStats(),
			)

			if outputFormat(a.format) == formatJSON {
				if !content {
					for i := range out.Context.Entries {
						out.Context.Entries[i].Content = ""
					}
				}
				return a.printJSON(out)
			}
			return printContext(a, out, content)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "Q", "", "Optimize the window for this query")
	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget (default from config)")
	cmd.Flags().IntVar(&hops, "hops", 0, "Dependency hops kept together when trimming (default from config)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority for files given without one")
	cmd.Flags().IntVar(&suggest, "suggest", 0, "Suggest up to N related files not in the window")
	cmd.Flags().BoolVar(&content, "content", false, "Include file contents in the output")
	return cmd
}

func printContext(a *app, out contextOutput, content bool) error {
	for _, r := range out.Added {
		if r.Warning != nil {
			fmt.Fprintf(a.out, "warning: %s\n", r.Warning)
		}
		if !r.Added {
			fmt.Fprintf(a.out, "skipped: %s (%d tokens, %d remaining)\n", r.ID, r.TokenCost, r.Remaining)
		}
	}

	uc := out.Context
	fmt.Fprintf(a.out, "Context: %d/%d tokens, %d items (%s)\n", uc.UsedTokens, uc.TokenBudget, len(uc.Entries), uc.State)
	w := table(a.out)
	for _, e := range uc.Entries {
		aux := ""
		if e.Auxiliary {
			aux = "aux"
		}
		fmt.Fprintf(w, "  %s/%s\t%d\t%s\t%s\n", e.Repo, e.Path, e.TokenCost, output.FormatFloat(e.Relevance), aux)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if content {
		for _, e := range uc.Entries {
			fmt.Fprintf(a.out, "\n--- %s/%s ---\n", e.Repo, e.Path)
			if e.Content != "" {
				fmt.Fprintln(a.out, e.Content)
			} else {
				fmt.Fprintln(a.out, e.Summary)
			}
		}
	}

	if len(out.Suggestions) > 0 {
		fmt.Fprintln(a.out, "\nSuggested:")
		w := table(a.out)
		for _, sg := range out.Suggestions {
			fmt.Fprintf(w, "  %s/%s\t%s\t%d symbols\n", sg.Repo, sg.Path, output.FormatFloat(sg.Score), len(sg.Symbols))
		}
		return w.Flush()
	}
	return nil
}
