package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"xrepo/internal/config"
	"xrepo/internal/errors"
	"xrepo/internal/repos"
	"xrepo/internal/session"
	"xrepo/internal/slogutil"
	"xrepo/internal/version"
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	workspace string
	format    string
	verbosity int
	quiet     bool
	repo      string

	out io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:   "xrepo",
		Short: "xrepo - cross-repository context for language models",
		Long: `xrepo builds a symbol graph spanning several repositories, finds where they
integrate, and assembles a token-budgeted context window from their files.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			if a.workspace == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current directory: %w", err)
				}
				a.workspace = wd
			}
			switch outputFormat(a.format) {
			case formatJSON, formatHuman:
				return nil
			default:
				return fmt.Errorf("unsupported format: %s", a.format)
			}
		},
	}
	root.SetVersionTemplate("xrepo version {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&a.workspace, "workspace", "w", "", "Workspace directory (default: current directory)")
	flags.StringVar(&a.format, "format", string(formatHuman), "Output format (json, human)")
	flags.CountVarP(&a.verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Only log errors")
	flags.StringVar(&a.repo, "repo", "", "Active repository for unprefixed paths (overrides the manifest)")

	root.AddCommand(
		newRepoCmd(a),
		newGraphCmd(a),
		newIntegrationsCmd(a),
		newContextCmd(a),
		newResolveCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// loadConfig reads the workspace configuration.
func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadConfig(a.workspace)
}

// cliLevel returns the console level requested on the command line, nil when
// none was.
func (a *app) cliLevel() *slog.Level {
	if a.verbosity == 0 && !a.quiet {
		return nil
	}
	level := slogutil.LevelFromVerbosity(a.verbosity, a.quiet)
	return &level
}

// openOptions controls openSession.
type openOptions struct {
	// restore loads the graph from the snapshot store when storage is enabled.
	restore bool
}

// openSession opens the workspace session with cfg. The returned function
// closes the session and the log files.
func (a *app) openSession(cmd *cobra.Command, cfg *config.Config, opts openOptions) (*session.Session, *slog.Logger, func(), error) {
	factory := slogutil.NewLoggerFactory(a.workspace, cfg, a.cliLevel())
	logger := factory.CLILogger()

	s, err := session.Open(a.workspace, cfg, logger)
	if err != nil {
		_ = factory.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close session", "error", err)
		}
		_ = factory.Close()
	}

	// XREPO_REPO, --repo, then a registered checkout containing cwd override
	// the manifest's active repository for this invocation.
	wd, _ := os.Getwd()
	if a.repo != "" && !s.Registry().Has(a.repo) {
		cleanup()
		return nil, nil, nil, errors.Newf(errors.NotFound, "repository %s not found", a.repo)
	}
	resolved := s.Registry().ResolveActive(a.repo, wd)
	if resolved.Source != repos.ResolvedFromManifest && resolved.RepoID != "" {
		if err := s.OverrideActive(resolved.RepoID); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		logger.Debug("Active repository resolved", "repo", resolved.RepoID, "source", resolved.Source)
	}

	if opts.restore && s.Store() != nil {
		n, err := s.Restore(cmd.Context())
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		logger.Debug("Restored snapshot", "repos", n)
	}
	return s, logger, cleanup, nil
}
