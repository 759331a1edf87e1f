// Package metrics exposes Prometheus counters/gauges for the key/value
// server and the HTTP endpoint that serves them.
package metrics

import (
	"net/http"
	"sync"

	"github.com/kstaniek/kvd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus counters/gauges.
var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_connections_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvd_connections_active",
		Help: "Current number of connected clients.",
	})
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvd_commands_total",
		Help: "Total commands processed, by verb.",
	}, []string{"verb"})
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvd_command_errors_total",
		Help: "Total command decode/apply errors, by stage.",
	}, []string{"stage"})
	KeysExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_keys_expired_total",
		Help: "Total keys evicted by the TTL reaper.",
	})
	KeyspaceSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvd_keyspace_size",
		Help: "Current number of live keys.",
	})
	PubSubDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_pubsub_delivered_total",
		Help: "Total pub/sub messages delivered to subscribers.",
	})
	PubSubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_pubsub_dropped_total",
		Help: "Total pub/sub messages dropped due to a full subscriber buffer.",
	})
	SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_snapshot_saves_total",
		Help: "Total successful snapshot writes.",
	})
	SnapshotLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvd_snapshot_loads_total",
		Help: "Total successful snapshot loads at startup.",
	})
	SnapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvd_snapshot_errors_total",
		Help: "Total snapshot save/load failures, by operation.",
	}, []string{"op"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvd_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Command error stage labels (stable, bounded cardinality).
const (
	StageDecode = "decode"
	StageApply  = "apply"
)

// Snapshot operation labels.
const (
	SnapshotOpSave = "save"
	SnapshotOpLoad = "load"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// InitBuildInfo sets the build info gauge and pre-registers label series so
// the first real error/command doesn't pay first-touch registration cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, stage := range []string{StageDecode, StageApply} {
		CommandErrors.WithLabelValues(stage).Add(0)
	}
	for _, op := range []string{SnapshotOpSave, SnapshotOpLoad} {
		SnapshotErrors.WithLabelValues(op).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}

// Snapshot is a cheap point-in-time copy of the counters/gauges most useful
// for a periodic non-Prometheus log line.
type Snapshot struct {
	ConnectionsAccepted float64
	ConnectionsActive   float64
	KeysExpired         float64
	KeyspaceSize        float64
	PubSubDelivered     float64
	PubSubDropped       float64
	SnapshotSaves       float64
	SnapshotLoads       float64
}

// Snap reads the current value of the headline counters/gauges directly off
// their Prometheus collectors, without going through a scrape.
func Snap() Snapshot {
	return Snapshot{
		ConnectionsAccepted: readCounter(ConnectionsAccepted),
		ConnectionsActive:   readGauge(ConnectionsActive),
		KeysExpired:         readCounter(KeysExpired),
		KeyspaceSize:        readGauge(KeyspaceSize),
		PubSubDelivered:     readCounter(PubSubDelivered),
		PubSubDropped:       readCounter(PubSubDropped),
		SnapshotSaves:       readCounter(SnapshotSaves),
		SnapshotLoads:       readCounter(SnapshotLoads),
	}
}
