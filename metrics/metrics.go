// Package metrics exposes the node's prometheus instrumentation.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specularl2/specular-node/eth"
)

const Namespace = "specular_node"

type Metrics struct {
	Info *prometheus.GaugeVec
	Up   prometheus.Gauge

	PipelineResets     prometheus.Counter
	DerivedAttributes  prometheus.Counter
	UnsafePayloads     prometheus.Counter
	DerivationErrors   prometheus.Counter

	RefsNumber *prometheus.GaugeVec
	RefsTime   *prometheus.GaugeVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)
	return &Metrics{
		Info: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Pseudo-metric tracking version info",
		}, []string{"version"}),
		Up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "up",
			Help:      "1 if the node has finished starting up",
		}),
		PipelineResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_resets_total",
			Help:      "Count of derivation pipeline resets",
		}),
		DerivedAttributes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "derived_attributes_total",
			Help:      "Count of payload attributes derived from L1 data",
		}),
		UnsafePayloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "unsafe_payloads_total",
			Help:      "Count of unsafe payloads ingested",
		}),
		DerivationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "derivation_errors_total",
			Help:      "Count of derivation failures",
		}),
		RefsNumber: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "refs_number",
			Help:      "Block number of the tracked heads",
		}, []string{"type"}),
		RefsTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "refs_time",
			Help:      "Timestamp of the tracked heads",
		}, []string{"type"}),
		registry: registry,
	}
}

func (m *Metrics) RecordInfo(version string) {
	m.Info.WithLabelValues(version).Set(1)
}

func (m *Metrics) RecordUp() {
	m.Up.Set(1)
}

func (m *Metrics) RecordPipelineReset() {
	m.PipelineResets.Inc()
}

func (m *Metrics) RecordDerivedAttributes() {
	m.DerivedAttributes.Inc()
}

func (m *Metrics) RecordUnsafePayload() {
	m.UnsafePayloads.Inc()
}

func (m *Metrics) RecordDerivationError() {
	m.DerivationErrors.Inc()
}

func (m *Metrics) RecordHeads(unsafe, safe, finalized eth.BlockRef) {
	m.recordRef("unsafe", unsafe)
	m.recordRef("safe", safe)
	m.recordRef("finalized", finalized)
}

func (m *Metrics) recordRef(name string, ref eth.BlockRef) {
	m.RefsNumber.WithLabelValues(name).Set(float64(ref.Number))
	m.RefsTime.WithLabelValues(name).Set(float64(ref.Time))
}

// Serve starts the metrics HTTP server and blocks until the context is done.
func (m *Metrics) Serve(ctx context.Context, hostname string, port int) error {
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	return server.ListenAndServe()
}
