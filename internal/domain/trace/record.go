package trace

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/bytedance/sonic"
)

// Stage is a named checkpoint in the pipeline.
type Stage string

// Stages in pipeline order.
const (
	StageSent       Stage = "sent"
	StageReceived   Stage = "received"
	StageProcessed  Stage = "processed"
	StageAggregated Stage = "aggregated"
	StageDetected   Stage = "detected"
)

// Stages lists every stage in pipeline order.
var Stages = [...]Stage{StageSent, StageReceived, StageProcessed, StageAggregated, StageDetected}

// Index returns the position of s in Stages, or -1 if s is unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// ParseStage converts a stage name, rejecting unknown names.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Status is the lifecycle state of a trace.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusIncomplete
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Incomplete reasons set by the tracer itself. Callers of MarkIncomplete
// may supply any other string.
const (
	ReasonTimeout            = "timeout"
	ReasonNoDownstreamOutput = "no_downstream_output"
	ReasonUnspecified        = "unspecified"
)

// StageTimes maps each stage to a Unix millisecond timestamp. Zero means
// the stage has not fired.
type StageTimes [len(Stages)]int64

// Get returns the timestamp for stage, or 0 if unset or unknown.
func (t StageTimes) Get(s Stage) int64 {
	if i := s.Index(); i >= 0 {
		return t[i]
	}
	return 0
}

// Set stores ms for stage unless it is already set. It reports whether
// the value was written.
func (t *StageTimes) Set(s Stage, ms int64) bool {
	i := s.Index()
	if i < 0 || t[i] != 0 {
		return false
	}
	t[i] = ms
	return true
}

// First returns the earliest recorded stage timestamp, or 0.
func (t StageTimes) First() int64 {
	for _, v := range t {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Last returns the latest recorded stage timestamp in pipeline order, or 0.
func (t StageTimes) Last() int64 {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i] != 0 {
			return t[i]
		}
	}
	return 0
}

// fill copies every stage set in other but unset in t.
func (t *StageTimes) fill(other StageTimes) bool {
	changed := false
	for i, v := range other {
		if t[i] == 0 && v != 0 {
			t[i] = v
			changed = true
		}
	}
	return changed
}

// MarshalJSON writes every stage in pipeline order, null when unset.
func (t StageTimes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range Stages {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(string(st)))
		buf.WriteByte(':')
		if t[i] == 0 {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatInt(t[i], 10))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts an object of stage name to milliseconds. Unknown
// keys are ignored so newer writers can add stages.
func (t *StageTimes) UnmarshalJSON(data []byte) error {
	var raw map[string]*int64
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("stage timestamps: %w", err)
	}
	*t = StageTimes{}
	for name, v := range raw {
		if i := Stage(name).Index(); i >= 0 && v != nil {
			t[i] = *v
		}
	}
	return nil
}

// Record is the lifecycle of one correlation id. It is plain data: timers
// live in the Store, so a Record can be serialized as-is.
type Record struct {
	CorrelationID    string                   `json:"correlation_id"`
	EntityName       string                   `json:"entity_name"`
	ProcessInstance  string                   `json:"process_instance"`
	Timestamps       StageTimes               `json:"stage_timestamps"`
	Status           Status                   `json:"status"`
	IncompleteReason string                   `json:"incomplete_reason,omitempty"`
	RelatedOutputs   []string                 `json:"related_outputs"`
	ComponentsSeen   []string                 `json:"components_seen"`
	EventData        any                      `json:"event_data,omitempty"`
	Result           any                      `json:"result,omitempty"`
	StageData        map[Stage]map[string]any `json:"stage_data,omitempty"`
}

// Hop is the latency between two consecutive recorded stages.
type Hop struct {
	From   Stage `json:"from"`
	To     Stage `json:"to"`
	Millis int64 `json:"ms"`
}

// Name returns the hop key, e.g. "sent_to_received".
func (h Hop) Name() string { return HopName(h.From, h.To) }

// HopName formats the key for a hop between two stages.
func HopName(from, to Stage) string {
	return string(from) + "_to_" + string(to)
}

// EndToEnd returns last minus first recorded stage. Only completed
// traces have an end-to-end delay.
func (r *Record) EndToEnd() (int64, bool) {
	if r.Status != StatusCompleted {
		return 0, false
	}
	first, last := r.Timestamps.First(), r.Timestamps.Last()
	if first == 0 || last == 0 {
		return 0, false
	}
	return last - first, true
}

// Hops returns latencies between consecutive recorded stages, skipping
// stages that never fired. Computed for any status.
func (r *Record) Hops() []Hop {
	var hops []Hop
	prev := -1
	for i, v := range r.Timestamps {
		if v == 0 {
			continue
		}
		if prev >= 0 {
			hops = append(hops, Hop{
				From:   Stages[prev],
				To:     Stages[i],
				Millis: v - r.Timestamps[prev],
			})
		}
		prev = i
	}
	return hops
}

// Clone returns a copy that shares no slices or maps with r. EventData
// and Result are treated as immutable and shared.
func (r *Record) Clone() Record {
	c := *r
	c.RelatedOutputs = slices.Clone(r.RelatedOutputs)
	c.ComponentsSeen = slices.Clone(r.ComponentsSeen)
	if r.StageData != nil {
		c.StageData = make(map[Stage]map[string]any, len(r.StageData))
		for st, attrs := range r.StageData {
			m := make(map[string]any, len(attrs))
			for k, v := range attrs {
				m[k] = v
			}
			c.StageData[st] = m
		}
	}
	return c
}

// addComponent inserts id into the sorted ComponentsSeen set.
func (r *Record) addComponent(id string) bool {
	if id == "" {
		return false
	}
	i, found := slices.BinarySearch(r.ComponentsSeen, id)
	if found {
		return false
	}
	r.ComponentsSeen = slices.Insert(r.ComponentsSeen, i, id)
	return true
}

// addOutputs appends outputs not already related to the trace.
func (r *Record) addOutputs(outputs ...string) bool {
	changed := false
	for _, o := range outputs {
		if o == "" || slices.Contains(r.RelatedOutputs, o) {
			continue
		}
		r.RelatedOutputs = append(r.RelatedOutputs, o)
		changed = true
	}
	return changed
}

func (r *Record) addStageData(st Stage, attrs map[string]any) bool {
	if len(attrs) == 0 {
		return false
	}
	if r.StageData == nil {
		r.StageData = make(map[Stage]map[string]any)
	}
	dst, ok := r.StageData[st]
	if !ok {
		dst = make(map[string]any, len(attrs))
		r.StageData[st] = dst
	}
	changed := false
	for k, v := range attrs {
		if _, exists := dst[k]; !exists {
			dst[k] = v
			changed = true
		}
	}
	return changed
}

// Absorb folds other, another writer's copy of the same trace, into r.
// Unset stages, components, outputs, stage data and event data are filled
// in, and a terminal status in other replaces a pending one in r. A
// terminal status in r is never replaced. It reports whether r changed.
func (r *Record) Absorb(other Record) bool {
	other = other.Clone()
	other.normalize()
	r.normalize()

	changed := r.Timestamps.fill(other.Timestamps)
	for _, c := range other.ComponentsSeen {
		changed = r.addComponent(c) || changed
	}
	changed = r.addOutputs(other.RelatedOutputs...) || changed
	for st, attrs := range other.StageData {
		changed = r.addStageData(st, attrs) || changed
	}
	if r.EventData == nil && other.EventData != nil {
		r.EventData = other.EventData
		changed = true
	}
	if !r.Status.Terminal() && other.Status.Terminal() {
		r.Status = other.Status
		r.IncompleteReason = other.IncompleteReason
		r.Result = other.Result
		changed = true
	}
	return changed
}

// normalize repairs records read from other writers so invariants hold
// locally: sorted component set, non-nil slices.
func (r *Record) normalize() {
	if r.RelatedOutputs == nil {
		r.RelatedOutputs = []string{}
	}
	comps := r.ComponentsSeen
	r.ComponentsSeen = make([]string, 0, len(comps))
	for _, c := range comps {
		r.addComponent(c)
	}
	if r.Status != StatusIncomplete {
		r.IncompleteReason = ""
	}
}
