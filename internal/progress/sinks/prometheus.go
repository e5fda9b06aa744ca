package sinks

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/posterwatch/internal/progress"
)

// PrometheusSink exports scan and loader progress as Prometheus collectors.
type PrometheusSink struct {
	scansStarted  prometheus.Counter
	scansFinished *prometheus.CounterVec
	scansRunning  prometheus.Gauge
	scanRuntime   prometheus.Histogram

	entriesResolved *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec

	loaderStages   *prometheus.CounterVec
	loaderOutcomes *prometheus.CounterVec
	loaderRetries  prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posterwatch_scans_started_total",
			Help: "Total bulk scans started.",
		}),
		scansFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posterwatch_scans_finished_total",
			Help: "Total bulk scans finished partitioned by result.",
		}, []string{"result"}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posterwatch_scans_running",
			Help: "Bulk scans currently in progress.",
		}),
		scanRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "posterwatch_scan_runtime_seconds",
			Help:    "Wall time per finished bulk scan.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		entriesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posterwatch_scan_entries_total",
			Help: "Scan entries resolved partitioned by site and status.",
		}, []string{"site", "status"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posterwatch_probe_duration_seconds",
			Help:    "Probe latency partitioned by status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"status"}),
		loaderStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posterwatch_loader_stage_entered_total",
			Help: "Loader stage entries; direct counts fallbacks from the proxy.",
		}, []string{"stage"}),
		loaderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posterwatch_loader_outcomes_total",
			Help: "Terminal loader outcomes partitioned by result and stage.",
		}, []string{"result", "stage"}),
		loaderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posterwatch_loader_retries_total",
			Help: "Manual loader retries.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.scansStarted,
		s.scansFinished,
		s.scansRunning,
		s.scanRuntime,
		s.entriesResolved,
		s.probeDuration,
		s.loaderStages,
		s.loaderOutcomes,
		s.loaderRetries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindScanStart:
		s.scansStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.scansRunning.Inc()
		}
	case progress.KindScanDone:
		result := "completed"
		if evt.Status != "" {
			result = evt.Status
		}
		s.scansFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.scanRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.scansRunning.Dec()
		}
	case progress.KindScanResolved:
		s.entriesResolved.WithLabelValues(siteLabel(evt.Site), evt.Status).Inc()
		if evt.Dur > 0 {
			s.probeDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
	case progress.KindLoaderStage:
		s.loaderStages.WithLabelValues(evt.Status).Inc()
	case progress.KindLoaderLoaded:
		s.loaderOutcomes.WithLabelValues("loaded", evt.Status).Inc()
	case progress.KindLoaderFailed:
		s.loaderOutcomes.WithLabelValues("failed", evt.Status).Inc()
	case progress.KindLoaderRetry:
		s.loaderRetries.Inc()
	}
}

// siteLabel collapses a hostname to its registrable domain so CDN shards
// (a.img.example, b.img.example) share one series.
func siteLabel(host string) string {
	if host == "" {
		return "unknown"
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
