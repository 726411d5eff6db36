package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecordRequestAccumulatesCumulativeCounters(t *testing.T) {
	r := New(nil)
	r.RecordRequest("openai-custom", "gpt-5", 100, 50, 20*time.Millisecond)
	r.RecordRequest("openai-custom", "gpt-5", 10, 5, 5*time.Millisecond)

	snap := r.Snapshot()
	if snap.CumulativeRequests != 2 {
		t.Fatalf("CumulativeRequests = %d, want 2", snap.CumulativeRequests)
	}
	if snap.CumulativeInputTokens != 110 {
		t.Fatalf("CumulativeInputTokens = %d, want 110", snap.CumulativeInputTokens)
	}
	if snap.CumulativeOutputTokens != 55 {
		t.Fatalf("CumulativeOutputTokens = %d, want 55", snap.CumulativeOutputTokens)
	}
}

func TestHistogramBucketsLatencyCorrectly(t *testing.T) {
	r := New(nil)
	r.RecordRequest("anthropic", "claude", 1, 1, 5*time.Millisecond)
	r.RecordRequest("anthropic", "claude", 1, 1, 30*time.Millisecond)
	r.RecordRequest("anthropic", "claude", 1, 1, 20_000*time.Millisecond)

	snap := r.Snapshot()
	hs := snap.Providers["anthropic"].Latency
	if hs.Count != 3 {
		t.Fatalf("Count = %d, want 3", hs.Count)
	}
	if hs.Counts[0] != 1 {
		t.Fatalf("le=10ms bucket = %d, want 1 (the 5ms sample)", hs.Counts[0])
	}
	if hs.Counts[len(hs.Counts)-1] != 1 {
		t.Fatalf("+Inf bucket = %d, want 1 (the 20s sample)", hs.Counts[len(hs.Counts)-1])
	}
}

func TestActiveRequestGaugeTracksIncDec(t *testing.T) {
	r := New(nil)
	r.IncActive()
	r.IncActive()
	r.DecActive()

	if got := r.Snapshot().ActiveRequests; got != 1 {
		t.Fatalf("ActiveRequests = %d, want 1", got)
	}
}

func TestEstimatedCostUsesCostTable(t *testing.T) {
	r := New(map[string]ModelCost{"gpt-5": {InputPer1M: 2, OutputPer1M: 8}})
	r.RecordRequest("openai-custom", "gpt-5", 1_000_000, 500_000, time.Millisecond)

	got := r.Snapshot().Providers["openai-custom"].EstimatedCostUSD
	want := 2.0 + 4.0
	if got != want {
		t.Fatalf("EstimatedCostUSD = %v, want %v", got, want)
	}
}

func TestPrometheusTextIncludesCoreMetrics(t *testing.T) {
	r := New(nil)
	r.RecordRequest("gemini", "gemini-2.5-flash", 10, 10, time.Millisecond)

	text := string(r.PrometheusText())
	for _, want := range []string{"relaygate_requests_total", "relaygate_active_requests", "relaygate_upstream_latency_ms_bucket"} {
		if !strings.Contains(text, want) {
			t.Fatalf("Prometheus text missing %q:\n%s", want, text)
		}
	}
}

func TestSubscribeReceivesBroadcastSnapshot(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe()
	r.RecordRequest("openai-custom", "gpt-5", 1, 1, time.Millisecond)
	r.broadcast(r.Snapshot())

	select {
	case snap := <-ch:
		if snap.CumulativeRequests != 1 {
			t.Fatalf("CumulativeRequests = %d, want 1", snap.CumulativeRequests)
		}
	default:
		t.Fatal("expected a snapshot to be waiting on the subscriber channel")
	}
}
