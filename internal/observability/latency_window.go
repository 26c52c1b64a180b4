package observability

import (
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// stageOrder fixes report order to the order stages run in a turn.
var stageOrder = []string{StageRecognize, StageGenerate, StageSynthesize, StageDeliver, StageLog, StageTurnTotal}

// stageBudgetMS is the p95 each stage is expected to stay under on a phone call.
var stageBudgetMS = map[string]float64{
	StageRecognize:  1200,
	StageGenerate:   2500,
	StageSynthesize: 900,
	StageDeliver:    250,
	StageLog:        150,
	StageTurnTotal:  4500,
}

// StageReport summarizes the recent samples of one pipeline stage.
type StageReport struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	P99MS      float64 `json:"p99_ms"`
	BudgetMS   float64 `json:"budget_p95_ms,omitempty"`
	OverBudget int     `json:"over_budget"`
}

type IndicatorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencyReport is served by the perf endpoint.
type LatencyReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Window      int              `json:"window"`
	Stages      []StageReport    `json:"stages"`
	Indicators  []IndicatorCount `json:"indicators,omitempty"`
}

// ring keeps the last len(samples) observations of one stage.
type ring struct {
	samples []float64
	n       int
	head    int
	last    float64
}

func (r *ring) push(v float64) {
	r.samples[r.head] = v
	r.head = (r.head + 1) % len(r.samples)
	if r.n < len(r.samples) {
		r.n++
	}
	r.last = v
}

func (r *ring) sorted() []float64 {
	out := slices.Clone(r.samples[:r.n])
	slices.Sort(out)
	return out
}

type latencyWindow struct {
	mu         sync.Mutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	w := &latencyWindow{size: size}
	w.clear()
	return w
}

func (w *latencyWindow) clear() {
	w.rings = make(map[string]*ring)
	w.indicators = make(map[string]int)
}

func (w *latencyWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{samples: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(ms)
}

func (w *latencyWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	w.clear()
	w.mu.Unlock()
}

func (w *latencyWindow) report() LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	rep := LatencyReport{GeneratedAt: time.Now().UTC(), Window: w.size}
	for _, stage := range orderedStages(w.rings) {
		r := w.rings[stage]
		if r.n == 0 {
			continue
		}
		rep.Stages = append(rep.Stages, summarize(stage, r))
	}

	names := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rep.Indicators = append(rep.Indicators, IndicatorCount{Name: name, Count: w.indicators[name]})
	}
	return rep
}

// orderedStages lists known stages in pipeline order, then any others sorted.
func orderedStages(rings map[string]*ring) []string {
	out := make([]string, 0, len(rings))
	for _, s := range stageOrder {
		if _, ok := rings[s]; ok {
			out = append(out, s)
		}
	}
	var extra []string
	for s := range rings {
		if !slices.Contains(stageOrder, s) {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func summarize(stage string, r *ring) StageReport {
	vals := r.sorted()
	budget := stageBudgetMS[stage]
	sum, over := 0.0, 0
	for _, v := range vals {
		sum += v
		if budget > 0 && v > budget {
			over++
		}
	}
	return StageReport{
		Stage:      stage,
		Samples:    len(vals),
		LastMS:     round2(r.last),
		MeanMS:     round2(sum / float64(len(vals))),
		P50MS:      round2(percentile(vals, 0.50)),
		P95MS:      round2(percentile(vals, 0.95)),
		P99MS:      round2(percentile(vals, 0.99)),
		BudgetMS:   budget,
		OverBudget: over,
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
