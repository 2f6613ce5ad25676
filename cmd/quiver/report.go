package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/23skdu/quiver/internal/bench"
)

func printResults(w io.Writer, results []bench.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEARCH\tK\tQUERIES\tTIME\tQPS\tRECALL")
	for _, r := range results {
		recall := "-"
		if r.Recall >= 0 {
			recall = fmt.Sprintf("%.4f", r.Recall)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.1f\t%s\n", r.Search, r.K, r.Queries, r.Duration, r.QPS, recall)
	}
	return tw.Flush()
}
