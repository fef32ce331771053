package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/krisalay/fleet-agenda-cache/orchestrator"
	"github.com/krisalay/fleet-agenda-cache/types"
)

func printState(w io.Writer, st orchestrator.State) {
	pages := "?"
	if st.TotalPages > 0 {
		pages = fmt.Sprint(st.TotalPages)
	}
	sig := "all"
	if st.Filter != nil {
		sig = st.Filter.Signature()
	}
	fmt.Fprintf(w, "STATE  → %s, page %d/%s, filter %s, fetched %s\n",
		st.Phase, st.Page, pages, sig, humanize.Time(st.FetchedAt))
	if st.Notice != nil {
		fmt.Fprintf(w, "NOTICE → showing cached data: %v\n", st.Notice)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range st.View.Resources {
		fmt.Fprintf(tw, "  %s\t%s\t(vehicle %s)\n", r.Key, r.Title, r.OriginalRefID)
		for _, e := range st.View.Events {
			if e.ResourceKey != r.Key {
				continue
			}
			fmt.Fprintf(tw, "  \t#%s\t%s → %s\t%s\t%s %s\n",
				e.ID, e.Start.Format("Jan 02 15:04"), e.End.Format("Jan 02 15:04"),
				e.DurationLabel, e.Status, e.Status.Color())
		}
	}
	tw.Flush()
	if n := len(st.View.Dropped); n > 0 {
		fmt.Fprintf(w, "  (%d malformed bookings left off)\n", n)
	}
}

func printMetrics(w io.Writer, m *types.CounterMetrics) {
	fmt.Fprintln(w, "\n==================== METRICS ====================")
	fmt.Fprintf(w, "HITS           : %d\n", m.Hits.Load())
	fmt.Fprintf(w, "MISSES         : %d\n", m.Misses.Load())
	fmt.Fprintf(w, "STALE SERVED   : %d\n", m.Stales.Load())
	fmt.Fprintf(w, "REFRESHES      : %d\n", m.Refreshes.Load())
	fmt.Fprintf(w, "REFRESH ERRORS : %d\n", m.RefreshErrors.Load())
	fmt.Fprintf(w, "DISCARDED      : %d\n", m.Discards.Load())
	fmt.Fprintf(w, "EVICTIONS      : %d\n", m.Evictions.Load())
	fmt.Fprintf(w, "SPILL FAILURES : %d\n", m.SpillFailures.Load())
}
