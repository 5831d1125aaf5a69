package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xrepo/internal/adapt"
	"xrepo/internal/output"
)

func newIntegrationsCmd(a *app) *cobra.Command {
	var (
		minConfidence float64
		maxPairs      int
	)
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Find integration points between repositories",
		Long: `Find repository pairs that share definition names or call into each other.

A scan over more pairs than --max-pairs is cut short and reported as partial.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("min-confidence") {
				cfg.Detector.MinConfidence = minConfidence
			}
			if cmd.Flags().Changed("max-pairs") {
				cfg.Detector.MaxPairs = maxPairs
			}
			s, _, done, err := a.openSession(cmd, cfg, openOptions{restore: true})
			if err != nil {
				return err
			}
			defer done()

			res, err := s.IntegrationPoints(cmd.Context())
			if err != nil {
				return err
			}
			if outputFormat(a.format) == formatJSON {
				return a.printJSON(res)
			}

			if len(res.Points) == 0 {
				fmt.Fprintln(a.out, "No integration points found.")
			}
			for _, p := range res.Points {
				fmt.Fprintf(a.out, "%s\n", p.Pair)
				w := table(a.out)
				for _, c := range p.APIConnections {
					fmt.Fprintf(w, "  call\t%s\t-> %s\t%s\n", c.Edge.From, c.Target, output.FormatFloat(c.Confidence))
				}
				for _, sym := range p.SharedSymbols {
					match := "exact"
					if !sym.Exact {
						match = "normalized"
					}
					fmt.Fprintf(w, "  shared\t%s\t%s / %s\t%s\n", sym.Name, sym.Left, sym.Right, match)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if res.Partial != nil {
				fmt.Fprintf(a.out, "\nWarning: %v\n", res.Partial.Error())
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Drop API connections below this confidence")
	cmd.Flags().IntVar(&maxPairs, "max-pairs", 0, "Stop after this many repository pairs (0 means all)")
	cmd.AddCommand(newIntegrationsMapCmd(a))
	return cmd
}

func newIntegrationsMapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "map <source> <target>",
		Short: "Show the name mappings for moving code from source to target",
		Long: `Show the namespace and type mappings a code adaptation engine needs to
rewrite code taken from the source repository for the target repository.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, target := args[0], args[1]
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			s, _, done, err := a.openSession(cmd, cfg, openOptions{restore: true})
			if err != nil {
				return err
			}
			defer done()

			for _, id := range args {
				if !s.Graph().HasRepo(id) {
					return fmt.Errorf("repository %s is not in the graph; run \"xrepo graph build\"", id)
				}
			}
			res, err := s.IntegrationPoints(cmd.Context())
			if err != nil {
				return err
			}
			ns := adapt.NamespaceMapFor(res.Points, source, target)
			types := adapt.TypeMapFor(s.Graph(), ns, target)

			if outputFormat(a.format) == formatJSON {
				return a.printJSON(map[string]any{
					"source":       source,
					"target":       target,
					"namespaceMap": ns,
					"typeMap":      types,
				})
			}
			if len(ns) == 0 {
				fmt.Fprintf(a.out, "No mappings from %s to %s.\n", source, target)
				return nil
			}
			w := table(a.out)
			for _, name := range adapt.Keys(ns) {
				kind := "name"
				if _, ok := types[name]; ok {
					kind = "type"
				}
				fmt.Fprintf(w, "%s\t-> %s\t%s\n", name, ns[name], kind)
			}
			return w.Flush()
		},
	}
}

