// Package metrics exposes the daemon's Prometheus counters and gauges:
// dispatched requests per kind and their error outcomes, live actors per
// kind, notification-subscriber backpressure events, malformed request
// envelopes, and the SocketCAN driver's RX/TX frame counts.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nereid-labs/instrumentd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Total dispatched requests by request kind.",
	}, []string{"kind"})
	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "request_errors_total",
		Help: "Total failed requests by request kind and error taxonomy kind.",
	}, []string{"kind", "error"})
	ActorsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "actors_active",
		Help: "Current number of live transport actors by actor kind.",
	}, []string{"kind"})
	SubscriberDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriber_dropped_frames_total",
		Help: "Total notifications dropped for slow subscribers (drop-newest policy).",
	})
	SubscribersKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscribers_kicked_total",
		Help: "Total subscribers disconnected due to backpressure (disconnect policy).",
	})
	MalformedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_requests_total",
		Help: "Total rejected request envelopes that failed to decode.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
)

// StartHTTP serves Prometheus metrics at /metrics and the readiness probe
// at /ready on a mux of its own, listening on addr in a background
// goroutine, and returns the server so the caller can shut it down.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRequests        uint64
	localRequestErrors   uint64
	localSubscriberDrops uint64
	localSubscriberKicks uint64
	localMalformed       uint64
	localSocketCANRx     uint64
	localSocketCANTx     uint64
	localErrors          uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Requests        uint64 // sum across request kinds
	RequestErrors   uint64 // sum across kind/error labels
	SubscriberDrops uint64
	SubscriberKicks uint64
	Malformed       uint64
	SocketCANRx     uint64
	SocketCANTx     uint64
	Errors          uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Requests:        atomic.LoadUint64(&localRequests),
		RequestErrors:   atomic.LoadUint64(&localRequestErrors),
		SubscriberDrops: atomic.LoadUint64(&localSubscriberDrops),
		SubscriberKicks: atomic.LoadUint64(&localSubscriberKicks),
		Malformed:       atomic.LoadUint64(&localMalformed),
		SocketCANRx:     atomic.LoadUint64(&localSocketCANRx),
		SocketCANTx:     atomic.LoadUint64(&localSocketCANTx),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.

// IncRequest counts one dispatched request of the given kind.
func IncRequest(kind string) {
	RequestsTotal.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localRequests, 1)
}

// IncRequestError counts one failed request by kind and error taxonomy.
func IncRequestError(kind, errKind string) {
	RequestErrors.WithLabelValues(kind, errKind).Inc()
	atomic.AddUint64(&localRequestErrors, 1)
}

// IncActors increments the live-actor gauge for an actor kind.
func IncActors(kind string) { ActorsActive.WithLabelValues(kind).Inc() }

// DecActors decrements the live-actor gauge for an actor kind.
func DecActors(kind string) { ActorsActive.WithLabelValues(kind).Dec() }

// IncSubscriberDrop counts a notification dropped for a slow subscriber.
func IncSubscriberDrop() {
	SubscriberDroppedFrames.Inc()
	atomic.AddUint64(&localSubscriberDrops, 1)
}

// IncSubscriberKick counts a subscriber disconnected for backpressure.
func IncSubscriberKick() {
	SubscribersKicked.Inc()
	atomic.AddUint64(&localSubscriberKicks, 1)
}

// IncMalformed counts a request envelope that failed to decode.
func IncMalformed() {
	MalformedRequests.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

// IncSocketCANTx increments SocketCAN transmit counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
