// Package metrics exposes pipeline activity as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/transync/pkg/pipeline"
	"github.com/teslashibe/transync/pkg/stage"
)

const namespace = "transync"

// Metrics contains all collectors for the translation pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Stage metrics
	StageItems    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Utterance flow
	Utterances        prometheus.Counter
	UtteranceDuration prometheus.Histogram
	Recognized        *prometheus.CounterVec
	Translated        *prometheus.CounterVec
	Spoken            *prometheus.CounterVec
	SpeechSeconds     prometheus.Counter
	Latency           prometheus.Histogram

	// Snapshot gauges
	QueueDepth *prometheus.GaugeVec
	Dropped    prometheus.Gauge
	VirtualMic prometheus.Gauge
	Running    prometheus.Gauge
}

var (
	_ stage.Observer    = (*Metrics)(nil)
	_ pipeline.Observer = (*Metrics)(nil)
)

// New creates the collectors on a private registry. Go runtime and
// process collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newWith(reg)
}

func newWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		StageItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Items processed per stage, by outcome",
		}, []string{"stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent processing one item",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"stage"}),

		Utterances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances closed by the segmenter",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Captured speech per utterance",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		Recognized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognized_total",
			Help:      "Utterances with recognized text, by detected language",
		}, []string{"language"}),
		Translated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translated_total",
			Help:      "Translations produced, by direction",
		}, []string{"source", "target"}),
		Spoken: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spoken_total",
			Help:      "Synthesized utterances delivered, by language",
		}, []string{"language"}),
		SpeechSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_seconds_total",
			Help:      "Seconds of synthesized speech delivered",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "end_to_end_latency_seconds",
			Help:      "Time from utterance close to speech delivery",
			Buckets:   prometheus.ExponentialBuckets(0.25, 1.5, 12),
		}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in each queue",
		}, []string{"queue"}),
		Dropped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dropped_items",
			Help:      "Items dropped by bounded queues since start",
		}),
		VirtualMic: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_mic_active",
			Help:      "1 when speech is routed to the virtual microphone",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the pipeline stages are running",
		}),
	}
}

// ObserveItem implements stage.Observer.
func (m *Metrics) ObserveItem(stageName string, elapsed time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, stage.ErrPanic):
		outcome = "panic"
	case err != nil:
		outcome = "error"
	}
	m.StageItems.WithLabelValues(stageName, outcome).Inc()
	m.StageDuration.WithLabelValues(stageName).Observe(elapsed.Seconds())
}

// OnEvent implements pipeline.Observer.
func (m *Metrics) OnEvent(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventUtterance:
		m.Utterances.Inc()
		m.UtteranceDuration.Observe(e.AudioDuration.Seconds())
	case pipeline.EventRecognized:
		m.Recognized.WithLabelValues(e.Language).Inc()
	case pipeline.EventTranslated:
		m.Translated.WithLabelValues(e.SourceLanguage, e.Language).Inc()
	case pipeline.EventSpoken:
		m.Spoken.WithLabelValues(e.Language).Inc()
		m.SpeechSeconds.Add(e.AudioDuration.Seconds())
		m.Latency.Observe(e.Latency.Seconds())
	}
}

// UpdateStatus copies a status snapshot into the gauges.
func (m *Metrics) UpdateStatus(s pipeline.Status) {
	m.QueueDepth.WithLabelValues("audio").Set(float64(s.Queues.Audio))
	m.QueueDepth.WithLabelValues("utterances").Set(float64(s.Queues.Utterances))
	m.QueueDepth.WithLabelValues("recognized").Set(float64(s.Queues.Recognized))
	m.QueueDepth.WithLabelValues("translated").Set(float64(s.Queues.Translated))
	m.QueueDepth.WithLabelValues("playback").Set(float64(s.Queues.Playback))
	m.Dropped.Set(float64(s.Queues.Dropped))
	m.VirtualMic.Set(boolGauge(s.UseVirtualMic))
	m.Running.Set(boolGauge(s.Running))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
