package main

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/enmesarru/glone/internal/gitsync"
)

// printSummary writes one row per outcome, in the order given.
func printSummary(w io.Writer, outcomes []gitsync.Outcome) error {
	table := tablewriter.NewWriter(w)
	table.Header("Provider", "Outcome", "Detail", "Duration")

	for _, o := range outcomes {
		if err := table.Append([]string{o.Provider, outcomeLabel(o), detail(o), o.Duration.Round(time.Millisecond).String()}); err != nil {
			return err
		}
	}

	return table.Render()
}

func outcomeLabel(o gitsync.Outcome) string {
	if o.Failed() {
		return o.ErrorKind().String()
	}
	return o.Kind.String()
}

func detail(o gitsync.Outcome) string {
	if o.Failed() {
		if o.Err == nil {
			return ""
		}
		return o.Err.Error()
	}
	return o.String()
}

func failures(outcomes []gitsync.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}
