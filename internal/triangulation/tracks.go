package triangulation

import "sort"

type trackKey struct {
	label string
	t     int
}

// TrackSet holds 2D observations keyed by marker label and time index.
// Labels keep their first-seen order so output follows the input files.
type TrackSet struct {
	obs    map[trackKey][]Observation
	labels []string
	known  map[string]bool
	times  map[int]bool
}

// NewTrackSet returns an empty track set.
func NewTrackSet() *TrackSet {
	return &TrackSet{
		obs:   make(map[trackKey][]Observation),
		known: make(map[string]bool),
		times: make(map[int]bool),
	}
}

// Add records one camera's observation of a marker at time t. Missing
// observations are kept so the label and time still count as attempted.
func (ts *TrackSet) Add(label string, t int, o Observation) {
	if !ts.known[label] {
		ts.known[label] = true
		ts.labels = append(ts.labels, label)
	}
	ts.times[t] = true
	k := trackKey{label, t}
	ts.obs[k] = append(ts.obs[k], o)
}

// Labels returns the marker labels in first-seen order.
func (ts *TrackSet) Labels() []string {
	return append([]string(nil), ts.labels...)
}

// Times returns the sorted time indices.
func (ts *TrackSet) Times() []int {
	out := make([]int, 0, len(ts.times))
	for t := range ts.times {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// Observations returns every camera's observation of label at time t.
func (ts *TrackSet) Observations(label string, t int) []Observation {
	return append([]Observation(nil), ts.obs[trackKey{label, t}]...)
}

// Len returns the number of (label, time) entries.
func (ts *TrackSet) Len() int { return len(ts.obs) }
