package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/egsm/perftrace/internal/domain/sharedstate"
	"github.com/egsm/perftrace/internal/domain/stats"
	"github.com/egsm/perftrace/internal/domain/trace"
)

// NewClient creates the HTTP client used to read running tracers.
// Retries happen in the retryablehttp transport underneath resty.
func NewClient(timeout time.Duration) *resty.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	return resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(timeout).
		SetHeader("User-Agent", "perfreport/1.0")
}

// FromFile reads every trace in a shared trace file. A missing file has
// no traces.
func FromFile(path string) ([]trace.Record, error) {
	byID, err := sharedstate.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]trace.Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	return out, nil
}

// FromURL reads the traces a running tracer holds through its API.
func FromURL(ctx context.Context, client *resty.Client, base string) ([]trace.Record, error) {
	var body struct {
		Traces []trace.Record `json:"traces"`
	}
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(strings.TrimRight(base, "/") + "/traces")
	if err != nil {
		return nil, fmt.Errorf("fetch traces from %s: %w", base, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch traces from %s: unexpected status %d", base, resp.StatusCode())
	}
	return body.Traces, nil
}

// Combine merges trace sets by correlation id and orders the result by
// first recorded stage. Copies of one trace are folded together with
// Record.Absorb, so stages seen by different tracers all survive.
func Combine(sets ...[]trace.Record) []trace.Record {
	byID := make(map[string]*trace.Record)
	for _, set := range sets {
		for _, rec := range set {
			if have, ok := byID[rec.CorrelationID]; ok {
				have.Absorb(rec)
				continue
			}
			c := rec.Clone()
			byID[rec.CorrelationID] = &c
		}
	}

	out := make([]trace.Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].Timestamps.First(), out[j].Timestamps.First()
		if fi != fj {
			return fi < fj
		}
		return out[i].CorrelationID < out[j].CorrelationID
	})
	return out
}

// WriteText renders s as aligned text tables.
func WriteText(w io.Writer, s stats.Statistics) error {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)

	fmt.Fprintf(tw, "TRACES\tCOMPLETED\tINCOMPLETE\tPENDING\tCOMPLETION\n")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.2f%%\n",
		s.Summary.Total, s.Summary.Completed, s.Summary.Incomplete, s.Summary.Pending, s.Summary.CompletionRate)
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "DELAY (ms)\tCOUNT\tMIN\tMEAN\tMEDIAN\tP95\tP99\tMAX\n")
	if s.EndToEnd != nil {
		writeDistribution(tw, "end_to_end", *s.EndToEnd)
	}
	for _, hop := range s.Hops {
		writeDistribution(tw, hop.Name, hop.Distribution)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "PROCESS\tTOTAL\tCOMPLETED\tINCOMPLETE\tCOMPLETION\tAVG END-TO-END (ms)\n")
	for _, p := range s.Processes {
		avg := "-"
		if p.AvgEndToEnd != nil {
			avg = fmt.Sprintf("%.2f", *p.AvgEndToEnd)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f%%\t%s\n",
			p.ProcessInstance, p.Total, p.Completed, p.Incomplete, p.CompletionRate, avg)
	}

	if len(s.IncompleteReasons) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "INCOMPLETE REASON\tCOUNT\n")
		reasons := make([]string, 0, len(s.IncompleteReasons))
		for r := range s.IncompleteReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(tw, "%s\t%d\n", r, s.IncompleteReasons[r])
		}
	}
	return tw.Flush()
}

func writeDistribution(w io.Writer, name string, d stats.Distribution) {
	fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
		name, d.Count, d.Min, d.Mean, d.Median, d.P95, d.P99, d.Max)
}
