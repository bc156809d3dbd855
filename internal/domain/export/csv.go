package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/egsm/perftrace/internal/domain/stats"
	"github.com/egsm/perftrace/internal/domain/trace"
)

// WriteSummaryCSV writes the summary table: global counts, the
// end-to-end distribution, per-hop distributions, per-process rows and
// incomplete reasons, as blank-line separated sections.
func WriteSummaryCSV(w io.Writer, st stats.Statistics) error {
	cw := csv.NewWriter(w)
	s := st.Summary

	rows := [][]string{
		{"Metric", "Value"},
		{"Total Traces", itoa(s.Total)},
		{"Completed Traces", itoa(s.Completed)},
		{"Incomplete Traces", itoa(s.Incomplete)},
		{"Pending Traces", itoa(s.Pending)},
		{"Completion Rate (%)", ftoa(s.CompletionRate)},
		{},
	}

	if d := st.EndToEnd; d != nil {
		rows = append(rows,
			[]string{"End-to-End Delay (ms)"},
			[]string{"Count", itoa(d.Count)},
			[]string{"Min", ftoa(d.Min)},
			[]string{"Max", ftoa(d.Max)},
			[]string{"Mean", ftoa(d.Mean)},
			[]string{"Median", ftoa(d.Median)},
			[]string{"P95", ftoa(d.P95)},
			[]string{"P99", ftoa(d.P99)},
			[]string{},
		)
	}

	if len(st.Hops) > 0 {
		rows = append(rows, []string{"Hop", "Count", "Min (ms)", "Max (ms)", "Mean (ms)", "Median (ms)", "P95 (ms)", "P99 (ms)"})
		for _, h := range st.Hops {
			rows = append(rows, []string{
				h.Name, itoa(h.Count), ftoa(h.Min), ftoa(h.Max),
				ftoa(h.Mean), ftoa(h.Median), ftoa(h.P95), ftoa(h.P99),
			})
		}
		rows = append(rows, []string{})
	}

	rows = append(rows, []string{"Process", "Total", "Completed", "Incomplete", "Completion Rate (%)", "Avg End-to-End (ms)"})
	for _, p := range st.Processes {
		avg := ""
		if p.AvgEndToEnd != nil {
			avg = ftoa(*p.AvgEndToEnd)
		}
		rows = append(rows, []string{
			p.ProcessInstance, itoa(p.Total), itoa(p.Completed), itoa(p.Incomplete),
			ftoa(p.CompletionRate), avg,
		})
	}

	if len(st.IncompleteReasons) > 0 {
		rows = append(rows, []string{}, []string{"Incomplete Reason", "Count"})
		reasons := make([]string, 0, len(st.IncompleteReasons))
		for r := range st.IncompleteReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			rows = append(rows, []string{r, itoa(st.IncompleteReasons[r])})
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteDetailCSV writes one row per trace: identity, status, every stage
// timestamp, end-to-end delay, and one column per hop seen in records.
// Unset values are empty cells.
func WriteDetailCSV(w io.Writer, records []trace.Record) error {
	hopNames := hopColumns(records)

	header := []string{"Correlation ID", "Entity", "Process Instance", "Status", "Incomplete Reason"}
	for _, st := range trace.Stages {
		header = append(header, string(st))
	}
	header = append(header, "End-to-End (ms)")
	for _, name := range hopNames {
		header = append(header, name+" (ms)")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]
		row := []string{rec.CorrelationID, rec.EntityName, rec.ProcessInstance, string(rec.Status), rec.IncompleteReason}
		for _, st := range trace.Stages {
			row = append(row, msCell(rec.Timestamps.Get(st), rec.Timestamps.Get(st) != 0))
		}
		e2e, ok := rec.EndToEnd()
		row = append(row, msCell(e2e, ok))

		hops := make(map[string]int64)
		for _, h := range rec.Hops() {
			hops[h.Name()] = h.Millis
		}
		for _, name := range hopNames {
			v, ok := hops[name]
			row = append(row, msCell(v, ok))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// hopColumns lists every hop present in records in pipeline order.
func hopColumns(records []trace.Record) []string {
	type pair struct{ from, to int }
	seen := map[pair]string{}
	for i := range records {
		for _, h := range records[i].Hops() {
			seen[pair{h.From.Index(), h.To.Index()}] = h.Name()
		}
	}
	keys := make([]pair, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = seen[k]
	}
	return names
}

func msCell(v int64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
