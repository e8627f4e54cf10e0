package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream outcomes recorded by the completion relay.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeIdle      = "idle"
)

var (
	// streamsActive gauges completion streams currently relaying.
	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "completion_streams_active",
			Help: "Completion streams currently being relayed.",
		},
		[]string{"provider"},
	)

	// streamFragments counts non-empty fragments relayed to clients.
	streamFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_stream_fragments_total",
			Help: "Text fragments relayed from the provider.",
		},
		[]string{"provider"},
	)

	// streamOutcomes counts finished streams by how they ended.
	streamOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_streams_total",
			Help: "Finished completion streams by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// streamFirstFragment records time from request to the first fragment.
	streamFirstFragment = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_stream_first_fragment_seconds",
			Help:    "Latency until the first fragment arrived.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(streamsActive, streamFragments, streamOutcomes, streamFirstFragment)
}

// StreamRecorder tracks one relayed stream. It is not safe for concurrent use;
// a stream is pumped by a single goroutine.
type StreamRecorder struct {
	provider  string
	start     time.Time
	fragments int
	done      bool
}

// StartStream marks a stream as active and returns its recorder.
func StartStream(provider string) *StreamRecorder {
	streamsActive.WithLabelValues(provider).Inc()
	return &StreamRecorder{provider: provider, start: time.Now()}
}

// Fragment records one relayed fragment.
func (r *StreamRecorder) Fragment() {
	if r.fragments == 0 {
		streamFirstFragment.WithLabelValues(r.provider).Observe(time.Since(r.start).Seconds())
	}
	r.fragments++
	streamFragments.WithLabelValues(r.provider).Inc()
}

// Fragments returns how many fragments were recorded.
func (r *StreamRecorder) Fragments() int { return r.fragments }

// Finish records the outcome once; later calls are ignored.
func (r *StreamRecorder) Finish(outcome string) {
	if r.done {
		return
	}
	r.done = true
	streamsActive.WithLabelValues(r.provider).Dec()
	streamOutcomes.WithLabelValues(r.provider, outcome).Inc()
}
