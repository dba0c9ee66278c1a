package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ashwin-z/savereelify.com/internal/progress"
)

// PrometheusSink exports download progress as Prometheus collectors.
type PrometheusSink struct {
	started   prometheus.Counter
	completed *prometheus.CounterVec
	running   prometheus.Gauge
	duration  *prometheus.HistogramVec
	bytes     *prometheus.CounterVec

	active *activeSet
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_downloads_started_total",
			Help: "Downloads whose upstream response was accepted.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_downloads_completed_total",
			Help: "Finished downloads partitioned by result.",
		}, []string{"result"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_downloads_running",
			Help: "Downloads currently streaming.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_download_duration_seconds",
			Help:    "Wall time per finished download.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_download_bytes_total",
			Help: "Bytes streamed to clients per upstream host.",
		}, []string{"host"}),
		active: newActiveSet(),
	}
	for _, collector := range []prometheus.Collector{
		s.started, s.completed, s.running, s.duration, s.bytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageStart:
			s.started.Inc()
			if s.active.add(evt.DownloadID) {
				s.running.Inc()
			}
		case progress.StageDone:
			s.finish(evt, "success")
		case progress.StageError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.completed.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.duration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		host := evt.Host
		if host == "" {
			host = "unknown"
		}
		s.bytes.WithLabelValues(host).Add(float64(evt.Bytes))
	}
	if s.active.remove(evt.DownloadID) {
		s.running.Dec()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type activeSet struct {
	mu  sync.Mutex
	ids map[[16]byte]struct{}
}

func newActiveSet() *activeSet {
	return &activeSet{ids: make(map[[16]byte]struct{})}
}

func (a *activeSet) add(id [16]byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; ok {
		return false
	}
	a.ids[id] = struct{}{}
	return true
}

func (a *activeSet) remove(id [16]byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; !ok {
		return false
	}
	delete(a.ids, id)
	return true
}
