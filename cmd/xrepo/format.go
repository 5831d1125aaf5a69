package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"xrepo/internal/output"
)

// outputFormat represents the output format type
type outputFormat string

const (
	formatJSON  outputFormat = "json"
	formatHuman outputFormat = "human"
)

// printJSON writes v as deterministic indented JSON.
func (a *app) printJSON(v any) error {
	data, err := output.DeterministicEncodeIndented(v, "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// table returns a tabwriter over the command output. Callers must Flush.
func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
