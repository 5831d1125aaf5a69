package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"xrepo/internal/graph"
	"xrepo/internal/session"
	"xrepo/internal/watcher"
)

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect the cross-repository graph",
	}
	cmd.AddCommand(
		newGraphBuildCmd(a),
		newGraphWatchCmd(a),
		newGraphStatsCmd(a),
		newGraphDepsCmd(a),
		newGraphExportCmd(a),
		newGraphImportCmd(a),
	)
	return cmd
}

func newGraphBuildCmd(a *app) *cobra.Command {
	var (
		provider   string
		force      bool
		noSnapshot bool
	)
	cmd := &cobra.Command{
		Use:   "build [repo...]",
		Short: "Extract symbol graphs and merge them",
		Long: `Extract the symbol graph of each repository (all of them when none are named)
and merge them into the cross-repository graph.

Repositories whose git revision has not changed since the last build are
skipped unless --force is given. The result is saved to the snapshot store.

Examples:
  xrepo graph build                       # every registered repository
  xrepo graph build billing --force       # re-extract one repository
  xrepo graph build --provider file       # read exported xrepo-graph.json files`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, logger, done, err := a.openSession(cmd, cfg, openOptions{restore: !noSnapshot})
			if err != nil {
				return err
			}
			defer done()

			reports, err := s.Ingest(cmd.Context(), session.IngestOptions{
				Repos:    args,
				Provider: provider,
				Force:    force || noSnapshot,
			})
			if err != nil {
				return err
			}
			if s.Store() != nil {
				if err := s.SaveSnapshot(cmd.Context()); err != nil {
					return err
				}
			}
			logger.Info("Graph built", "repos", len(reports))

			if outputFormat(a.format) == formatJSON {
				return a.printJSON(reports)
			}
			w := table(a.out)
			fmt.Fprintln(w, "REPO\tPROVIDER\tREVISION\tNODES\tEDGES\tTIME")
			for _, r := range reports {
				if r.Skipped {
					fmt.Fprintf(w, "%s\t-\t%s\tunchanged\t\t\n", r.Repo, truncate(r.Revision, 12))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.Repo, r.Provider, truncate(r.Revision, 12), r.Nodes, r.Edges, r.Duration.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Symbol provider for every repository (treesitter, scip, file)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-extract repositories whose revision has not changed")
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "Ignore the saved snapshot and extract everything")
	return cmd
}

func newGraphWatchCmd(a *app) *cobra.Command {
	var debounce, poll time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild repositories when their git revision changes",
		Long: `Bring the graph up to date, then watch every registered git checkout and
re-extract a repository whenever its revision changes. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, logger, done, err := a.openSession(cmd, cfg, openOptions{restore: true})
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			if _, err := s.Ingest(ctx, session.IngestOptions{}); err != nil {
				return err
			}

			w := watcher.New(watcher.Config{Debounce: debounce, PollInterval: poll}, logger,
				func(ctx context.Context, c watcher.Change) {
					reports, err := s.Ingest(ctx, session.IngestOptions{Repos: []string{c.Repo}})
					if err != nil {
						logger.Error("Rebuild failed", "repo", c.Repo, "error", err)
						return
					}
					for _, r := range reports {
						fmt.Fprintf(a.out, "%s\t%s -> %s\t%d nodes\n", r.Repo, truncate(c.OldRevision, 12), truncate(r.Revision, 12), r.Nodes)
					}
				})
			for _, repo := range s.Registry().List() {
				if err := w.Watch(repo.ID, repo.RootPath); err != nil {
					logger.Warn("Not watching repository", "repo", repo.ID, "error", err)
				}
			}
			if len(w.Watched()) == 0 {
				return fmt.Errorf("no git checkouts to watch")
			}
			fmt.Fprintf(a.out, "Watching %d repositories (Ctrl-C to stop)\n", len(w.Watched()))
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultConfig().Debounce, "Quiet period before rebuilding")
	cmd.Flags().DurationVar(&poll, "poll", watcher.DefaultConfig().PollInterval, "Polling interval")
	return cmd
}

func newGraphStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph statistics",
		Args:  cobra.NoArgs,
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

			st := s.Graph().Stats()
			if outputFormat(a.format) == formatJSON {
				return a.printJSON(st)
			}
			fmt.Fprintf(a.out, "Repositories: %d\n", st.Repos)
			fmt.Fprintf(a.out, "Nodes:        %d\n", st.Nodes)
			fmt.Fprintf(a.out, "Edges:        %d (%d cross-repository)\n", st.Edges, st.CrossEdges)

			w := table(a.out)
			for _, kind := range slices.Sorted(maps.Keys(st.NodesByKind)) {
				fmt.Fprintf(w, "  node\t%s\t%d\n", kind, st.NodesByKind[kind])
			}
			for _, kind := range slices.Sorted(maps.Keys(st.EdgesByKind)) {
				fmt.Fprintf(w, "  edge\t%s\t%d\n", kind, st.EdgesByKind[kind])
			}
			return w.Flush()
		},
	}
}

func newGraphDepsCmd(a *app) *cobra.Command {
	var hops int
	cmd := &cobra.Command{
		Use:   "deps <repo|symbol>",
		Short: "List the dependency closure of a symbol",
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

			id := graph.NodeID(args[0])
			if _, ok := s.Graph().Node(id); !ok {
				return fmt.Errorf("symbol %s is not in the graph", id)
			}
			deps := s.Graph().Dependencies(id, hops)
			if outputFormat(a.format) == formatJSON {
				return a.printJSON(map[string]any{"symbol": id, "hops": hops, "dependencies": deps})
			}
			for _, d := range deps {
				fmt.Fprintln(a.out, d)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hops, "hops", 2, "Maximum hops to follow")
	return cmd
}

func newGraphExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the graph to a compressed archive",
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

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create archive: %w", err)
			}
			if err := s.ExportArchive(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported %d repositories to %s\n", len(s.Graph().Repos()), args[0])
			return nil
		},
	}
}

func newGraphImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the graph with a compressed archive",
		Long: `Replace the graph with the contents of an archive written by "graph export".
Repositories in the archive that are not registered in this workspace are skipped.`,
		Args: cobra.ExactArgs(1),
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

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open archive: %w", err)
			}
			defer func() { _ = f.Close() }()

			n, err := s.ImportArchive(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d repositories\n", n)
			return nil
		},
	}
}
