package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/egsm/perftrace/internal/domain/trace"
)

// Distribution summarizes a numeric sample in milliseconds.
type Distribution struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Describe computes the distribution of sample. It reports false for an
// empty sample. The input is not modified.
func Describe(sample []float64) (Distribution, bool) {
	n := len(sample)
	if n == 0 {
		return Distribution{}, false
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)

	return Distribution{
		Count:  n,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: sorted[n/2],
		P95:    nearestRank(sorted, 0.95),
		P99:    nearestRank(sorted, 0.99),
	}, true
}

func nearestRank(sorted []float64, k float64) float64 {
	i := int(math.Floor(float64(len(sorted)) * k))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// Summary holds global trace counts.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Incomplete int `json:"incomplete"`
	Pending    int `json:"pending"`
	// CompletionRate is completed/total as a percentage, two decimals.
	CompletionRate float64 `json:"completion_rate"`
}

// HopStats is the distribution of one hop across traces.
type HopStats struct {
	Name         string      `json:"name"`
	From         trace.Stage `json:"from"`
	To           trace.Stage `json:"to"`
	Distribution `json:"distribution"`
}

// ProcessBreakdown summarizes the traces of one process instance.
type ProcessBreakdown struct {
	ProcessInstance string  `json:"process_instance"`
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Incomplete      int     `json:"incomplete"`
	CompletionRate  float64 `json:"completion_rate"`
	// AvgEndToEnd is the mean end-to-end delay of completed traces, two
	// decimals; nil when none completed.
	AvgEndToEnd *float64 `json:"avg_end_to_end_ms"`
}

// Statistics is the full aggregate over a set of records.
type Statistics struct {
	Summary           Summary            `json:"summary"`
	EndToEnd          *Distribution      `json:"end_to_end"`
	Hops              []HopStats         `json:"hops"`
	Processes         []ProcessBreakdown `json:"processes"`
	IncompleteReasons map[string]int     `json:"incomplete_reasons"`
}

// Compute aggregates records. End-to-end delays come from completed
// traces only; hops come from every trace regardless of status.
func Compute(records []trace.Record) Statistics {
	var (
		summary   Summary
		endToEnd  []float64
		hops      = map[[2]trace.Stage][]float64{}
		processes = map[string]*processAcc{}
		reasons   = map[string]int{}
	)

	for i := range records {
		rec := &records[i]
		summary.Total++

		acc, ok := processes[rec.ProcessInstance]
		if !ok {
			acc = &processAcc{}
			processes[rec.ProcessInstance] = acc
		}
		acc.total++

		switch rec.Status {
		case trace.StatusCompleted:
			summary.Completed++
			acc.completed++
			if d, ok := rec.EndToEnd(); ok {
				endToEnd = append(endToEnd, float64(d))
				acc.delays = append(acc.delays, float64(d))
			}
		case trace.StatusIncomplete:
			summary.Incomplete++
			acc.incomplete++
			reasons[rec.IncompleteReason]++
		default:
			summary.Pending++
		}

		for _, h := range rec.Hops() {
			key := [2]trace.Stage{h.From, h.To}
			hops[key] = append(hops[key], float64(h.Millis))
		}
	}
	summary.CompletionRate = Rate(summary.Completed, summary.Total)

	out := Statistics{
		Summary:           summary,
		Hops:              make([]HopStats, 0, len(hops)),
		Processes:         make([]ProcessBreakdown, 0, len(processes)),
		IncompleteReasons: reasons,
	}
	if d, ok := Describe(endToEnd); ok {
		out.EndToEnd = &d
	}

	for key, sample := range hops {
		d, _ := Describe(sample)
		out.Hops = append(out.Hops, HopStats{
			Name:         trace.HopName(key[0], key[1]),
			From:         key[0],
			To:           key[1],
			Distribution: d,
		})
	}
	sort.Slice(out.Hops, func(i, j int) bool {
		a, b := out.Hops[i], out.Hops[j]
		if ai, bi := a.From.Index(), b.From.Index(); ai != bi {
			return ai < bi
		}
		return a.To.Index() < b.To.Index()
	})

	for instance, acc := range processes {
		pb := ProcessBreakdown{
			ProcessInstance: instance,
			Total:           acc.total,
			Completed:       acc.completed,
			Incomplete:      acc.incomplete,
			CompletionRate:  Rate(acc.completed, acc.total),
		}
		if len(acc.delays) > 0 {
			avg := Round2(stat.Mean(acc.delays, nil))
			pb.AvgEndToEnd = &avg
		}
		out.Processes = append(out.Processes, pb)
	}
	sort.Slice(out.Processes, func(i, j int) bool {
		return out.Processes[i].ProcessInstance < out.Processes[j].ProcessInstance
	})

	return out
}

// Hop returns the statistics for the named hop.
func (s Statistics) Hop(name string) (HopStats, bool) {
	for _, h := range s.Hops {
		if h.Name == name {
			return h, true
		}
	}
	return HopStats{}, false
}

type processAcc struct {
	total, completed, incomplete int
	delays                       []float64
}

// Rate returns part/whole as a percentage rounded to two decimals, or 0
// when whole is 0.
func Rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return Round2(float64(part) / float64(whole) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
