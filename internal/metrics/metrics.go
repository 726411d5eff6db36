// Package metrics implements the gateway's rolling request/token counters,
// per-provider latency histograms, and cost estimation. The teacher routes
// its own telemetry through rakunlabs/tell, an OTLP push pipeline; that is
// unsuited to the pull-style Prometheus /metrics scrape this component
// needs (see DESIGN.md), so this package is a small dependency-free
// exporter instead, grounded on the plain-struct-plus-mutex style the
// teacher uses throughout internal/service for shared mutable state.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ringSize is the rolling window length in one-second buckets.
const ringSize = 60

type bucket struct {
	requests     int64
	inputTokens  int64
	outputTokens int64
}

// histogramBounds are the latency buckets named in spec.md §4.G, in
// milliseconds; the final +Inf bucket is implicit (len(counts) ==
// len(histogramBounds)+1).
var histogramBounds = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type histogram struct {
	mu     sync.Mutex
	counts []int64 // len(histogramBounds)+1
	sum    float64
	n      int64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]int64, len(histogramBounds)+1)}
}

func (h *histogram) observe(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += ms
	h.n++
	for i, bound := range histogramBounds {
		if ms <= bound {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.counts)-1]++
}

func (h *histogram) snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make([]int64, len(h.counts))
	copy(counts, h.counts)
	return HistogramSnapshot{Bounds: histogramBounds, Counts: counts, Sum: h.sum, Count: h.n}
}

type HistogramSnapshot struct {
	Bounds []float64
	Counts []int64
	Sum    float64
	Count  int64
}

// ModelCost is a static per-million-token price used to estimate spend;
// spec.md names this "a static table" rather than a live pricing feed.
type ModelCost struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Snapshot is one point-in-time read of every derived metric, pushed to
// subscribers and rendered as Prometheus text.
type Snapshot struct {
	At time.Time

	RPM          float64
	TPM          float64
	TPS          float64 // requests completed in the last full second
	TTPSInstant  float64 // tokens/sec in the last full second
	TTPSAvg60    float64 // tokens/sec averaged over the 60s window

	CumulativeRequests     int64
	CumulativeInputTokens  int64
	CumulativeOutputTokens int64
	ActiveRequests         int64
	Errors                 int64

	Providers map[string]ProviderSnapshot
}

type ProviderSnapshot struct {
	Latency         HistogramSnapshot
	EstimatedCostUSD float64
}

// Recorder is the process-wide metrics core. Every mutating call is
// designed to be fire-and-forget: callers must never block on it (spec.md
// §4.G), so all hot paths are either atomic ops or a bounded mutex held
// only for the duration of a slice/map write.
type Recorder struct {
	costTable map[string]ModelCost

	mu          sync.Mutex
	ring        [ringSize]bucket
	ringHead    int // index of the bucket currently accumulating
	cumRequests int64
	cumInput    int64
	cumOutput   int64

	active int64 // atomic
	errors int64 // atomic

	histMu     sync.Mutex
	histograms map[string]*histogram

	costMu sync.Mutex
	cost   map[string]float64 // accumulated estimated USD per provider

	subMu sync.Mutex
	subs  []chan Snapshot

	stop chan struct{}
}

func New(costTable map[string]ModelCost) *Recorder {
	return &Recorder{
		costTable:  costTable,
		histograms: map[string]*histogram{},
		cost:       map[string]float64{},
		stop:       make(chan struct{}),
	}
}

// Run rotates the ring buffer once a second and pushes a Snapshot to
// subscribers roughly 3 times a second, until Stop is called. Intended to
// be launched via `go recorder.Run()` from process bootstrap.
func (r *Recorder) Run() {
	rotate := time.NewTicker(time.Second)
	defer rotate.Stop()
	push := time.NewTicker(333 * time.Millisecond)
	defer push.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-rotate.C:
			r.rotate()
		case <-push.C:
			r.broadcast(r.Snapshot())
		}
	}
}

func (r *Recorder) Stop() { close(r.stop) }

func (r *Recorder) rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ringHead = (r.ringHead + 1) % ringSize
	r.ring[r.ringHead] = bucket{}
}

// RecordRequest accounts one completed request's token counts and
// upstream latency, and accumulates its estimated cost for the given
// provider kind against the configured cost table for model.
func (r *Recorder) RecordRequest(providerKind, model string, inputTokens, outputTokens int, latency time.Duration) {
	r.mu.Lock()
	b := &r.ring[r.ringHead]
	b.requests++
	b.inputTokens += int64(inputTokens)
	b.outputTokens += int64(outputTokens)
	r.cumRequests++
	r.cumInput += int64(inputTokens)
	r.cumOutput += int64(outputTokens)
	r.mu.Unlock()

	r.histogramFor(providerKind).observe(float64(latency.Milliseconds()))

	if cost, ok := r.costTable[model]; ok {
		estimate := float64(inputTokens)/1_000_000*cost.InputPer1M + float64(outputTokens)/1_000_000*cost.OutputPer1M
		r.costMu.Lock()
		r.cost[providerKind] += estimate
		r.costMu.Unlock()
	}
}

func (r *Recorder) histogramFor(providerKind string) *histogram {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	h, ok := r.histograms[providerKind]
	if !ok {
		h = newHistogram()
		r.histograms[providerKind] = h
	}
	return h
}

func (r *Recorder) IncActive() { atomic.AddInt64(&r.active, 1) }
func (r *Recorder) DecActive() { atomic.AddInt64(&r.active, -1) }
func (r *Recorder) IncError()  { atomic.AddInt64(&r.errors, 1) }

// Snapshot computes every derived metric from the current ring contents.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	var sumReq, sumIn, sumOut int64
	for _, b := range r.ring {
		sumReq += b.requests
		sumIn += b.inputTokens
		sumOut += b.outputTokens
	}
	lastSecond := r.ring[(r.ringHead+ringSize-1)%ringSize]
	cumReq, cumIn, cumOut := r.cumRequests, r.cumInput, r.cumOutput
	r.mu.Unlock()

	snap := Snapshot{
		At:                     time.Now(),
		RPM:                    float64(sumReq),
		TPM:                    float64(sumIn + sumOut),
		TPS:                    float64(lastSecond.requests),
		TTPSInstant:            float64(lastSecond.inputTokens + lastSecond.outputTokens),
		TTPSAvg60:              float64(sumIn+sumOut) / ringSize,
		CumulativeRequests:     cumReq,
		CumulativeInputTokens:  cumIn,
		CumulativeOutputTokens: cumOut,
		ActiveRequests:         atomic.LoadInt64(&r.active),
		Errors:                 atomic.LoadInt64(&r.errors),
		Providers:              map[string]ProviderSnapshot{},
	}

	r.histMu.Lock()
	for kind, h := range r.histograms {
		snap.Providers[kind] = ProviderSnapshot{Latency: h.snapshot()}
	}
	r.histMu.Unlock()

	r.costMu.Lock()
	for kind, usd := range r.cost {
		ps := snap.Providers[kind]
		ps.EstimatedCostUSD = usd
		snap.Providers[kind] = ps
	}
	r.costMu.Unlock()

	return snap
}

// Subscribe registers a channel that receives a Snapshot roughly 3 times
// a second. Sends are non-blocking: a slow subscriber simply misses
// updates rather than stalling the push loop.
func (r *Recorder) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 4)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Recorder) broadcast(snap Snapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// PrometheusText renders the current snapshot in the Prometheus text
// exposition format for a pull-style /metrics scrape.
func (r *Recorder) PrometheusText() []byte {
	snap := r.Snapshot()
	var b strings.Builder

	fmt.Fprintf(&b, "# HELP relaygate_requests_total Cumulative completed requests.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_requests_total counter\n")
	fmt.Fprintf(&b, "relaygate_requests_total %d\n", snap.CumulativeRequests)

	fmt.Fprintf(&b, "# HELP relaygate_input_tokens_total Cumulative input tokens.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_input_tokens_total counter\n")
	fmt.Fprintf(&b, "relaygate_input_tokens_total %d\n", snap.CumulativeInputTokens)

	fmt.Fprintf(&b, "# HELP relaygate_output_tokens_total Cumulative output tokens.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_output_tokens_total counter\n")
	fmt.Fprintf(&b, "relaygate_output_tokens_total %d\n", snap.CumulativeOutputTokens)

	fmt.Fprintf(&b, "# HELP relaygate_active_requests Requests currently in flight.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_active_requests gauge\n")
	fmt.Fprintf(&b, "relaygate_active_requests %d\n", snap.ActiveRequests)

	fmt.Fprintf(&b, "# HELP relaygate_errors_total Cumulative request errors.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_errors_total counter\n")
	fmt.Fprintf(&b, "relaygate_errors_total %d\n", snap.Errors)

	kinds := make([]string, 0, len(snap.Providers))
	for k := range snap.Providers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintf(&b, "# HELP relaygate_upstream_latency_ms Upstream adapter latency per provider kind.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_upstream_latency_ms histogram\n")
	for _, kind := range kinds {
		hs := snap.Providers[kind].Latency
		var cumulative int64
		for i, bound := range hs.Bounds {
			cumulative += hs.Counts[i]
			fmt.Fprintf(&b, "relaygate_upstream_latency_ms_bucket{kind=%q,le=%q} %d\n", kind, strconv.FormatFloat(bound, 'f', -1, 64), cumulative)
		}
		cumulative += hs.Counts[len(hs.Counts)-1]
		fmt.Fprintf(&b, "relaygate_upstream_latency_ms_bucket{kind=%q,le=\"+Inf\"} %d\n", kind, cumulative)
		fmt.Fprintf(&b, "relaygate_upstream_latency_ms_sum{kind=%q} %f\n", kind, hs.Sum)
		fmt.Fprintf(&b, "relaygate_upstream_latency_ms_count{kind=%q} %d\n", kind, hs.Count)
	}

	fmt.Fprintf(&b, "# HELP relaygate_estimated_cost_usd Estimated cumulative spend per provider kind.\n")
	fmt.Fprintf(&b, "# TYPE relaygate_estimated_cost_usd counter\n")
	for _, kind := range kinds {
		fmt.Fprintf(&b, "relaygate_estimated_cost_usd{kind=%q} %f\n", kind, snap.Providers[kind].EstimatedCostUSD)
	}

	return []byte(b.String())
}
