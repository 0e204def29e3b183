// Package metrics exposes the small counter/gauge surface the storage layer
// reports against, concretely backed by Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the abstract metrics collaborator the store and backup packages
// depend on. Keeping it as an interface (rather than importing Prometheus
// types directly into those packages) lets tests substitute a no-op or
// recording sink.
type Sink interface {
	IncKeysTotal(tree string)
	DecKeysTotal(tree string)
	AddKeysTotal(tree string, delta int64)
	IncOperations(op string)
	AddOperations(op string, delta uint64)
	SetDiskSizeBytes(v float64)
	SetBackupSizeBytes(v float64)
	IncTTLExpiredKeys()
}

// Metrics is the concrete Prometheus-backed Sink. Register it on a registry
// and serve that registry with promhttp.HandlerFor.
type Metrics struct {
	keysTotal            *prometheus.GaugeVec
	operationsTotal       *prometheus.CounterVec
	diskSizeBytes        prometheus.Gauge
	backupSizeBytes      prometheus.Gauge
	ttlExpiredKeysTotal  prometheus.Counter
}

// New builds a Metrics instance and registers all of its collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		keysTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "epochdb_keys_total",
			Help: "Total number of keys in a tree",
		}, []string{"tree"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epochdb_operations_total",
			Help: "Total number of operations",
		}, []string{"operation"}),
		diskSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epochdb_disk_size_bytes",
			Help: "Size in bytes of the database directory on disk",
		}),
		backupSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epochdb_backup_size_bytes",
			Help: "Size in bytes of the most recent backup archive",
		}),
		ttlExpiredKeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epochdb_ttl_expired_keys_total",
			Help: "Total number of keys removed by the expiration reaper",
		}),
	}

	reg.MustRegister(m.keysTotal, m.operationsTotal, m.diskSizeBytes, m.backupSizeBytes, m.ttlExpiredKeysTotal)
	return m
}

func (m *Metrics) IncKeysTotal(tree string) { m.keysTotal.WithLabelValues(tree).Inc() }
func (m *Metrics) DecKeysTotal(tree string) { m.keysTotal.WithLabelValues(tree).Dec() }

func (m *Metrics) AddKeysTotal(tree string, delta int64) {
	m.keysTotal.WithLabelValues(tree).Add(float64(delta))
}

func (m *Metrics) IncOperations(op string) { m.operationsTotal.WithLabelValues(op).Inc() }

func (m *Metrics) AddOperations(op string, delta uint64) {
	m.operationsTotal.WithLabelValues(op).Add(float64(delta))
}

func (m *Metrics) SetDiskSizeBytes(v float64)   { m.diskSizeBytes.Set(v) }
func (m *Metrics) SetBackupSizeBytes(v float64) { m.backupSizeBytes.Set(v) }
func (m *Metrics) IncTTLExpiredKeys()           { m.ttlExpiredKeysTotal.Inc() }

// Noop is a Sink that discards every observation, used where a caller needs
// the interface satisfied without a live registry (tests, embedders that
// don't care about metrics).
type Noop struct{}

func (Noop) IncKeysTotal(string)             {}
func (Noop) DecKeysTotal(string)             {}
func (Noop) AddKeysTotal(string, int64)      {}
func (Noop) IncOperations(string)            {}
func (Noop) AddOperations(string, uint64)    {}
func (Noop) SetDiskSizeBytes(float64)        {}
func (Noop) SetBackupSizeBytes(float64)      {}
func (Noop) IncTTLExpiredKeys()              {}
