// Package metrics exposes a Prometheus exporter and small admin HTTP
// server (health check, raw framebuffer dump) over the statistics
// feed's broadcast subscription.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/statistics"
)

// Exporter serves /metrics (Prometheus text format), /healthz, and
// /debug/snapshot (a raw ARGB8888 dump of the framebuffer) on its own
// listener, independent of the Pixelflut TCP port.
type Exporter struct {
	listenAddress string
	fb            *canvas.Framebuffer

	server   *http.Server
	listener net.Listener
	ready    atomic.Bool

	ipsV6            prometheus.Gauge
	ipsV4            prometheus.Gauge
	frame            prometheus.Gauge
	statisticEvents  prometheus.Gauge
	connections      *prometheus.GaugeVec
	deniedConns      *prometheus.GaugeVec
	bytes            *prometheus.GaugeVec
}

// New builds an Exporter bound to listenAddress, registering its
// gauges against a private registry so multiple Exporters (as in
// tests) never collide on prometheus' default global one.
func New(listenAddress string, fb *canvas.Framebuffer) *Exporter {
	e := &Exporter{
		listenAddress: listenAddress,
		fb:            fb,
		ipsV6: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakwater_ips_v6", Help: "Number of distinct IPv6 clients currently connected.",
		}),
		ipsV4: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakwater_ips_v4", Help: "Number of distinct IPv4 clients currently connected.",
		}),
		frame: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakwater_frame", Help: "Monotonically increasing frame counter.",
		}),
		statisticEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breakwater_statistic_events", Help: "Total statistics events processed.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breakwater_connections", Help: "Open connections per client IP.",
		}, []string{"ip"}),
		deniedConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breakwater_denied_connections", Help: "Denied connection attempts per client IP.",
		}, []string{"ip"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breakwater_bytes", Help: "Bytes received per client IP.",
		}, []string{"ip"}),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(e.ipsV6, e.ipsV4, e.frame, e.statisticEvents, e.connections, e.deniedConns, e.bytes)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", e.handleHealthz).Methods("GET")
	router.HandleFunc("/debug/snapshot", e.handleSnapshot).Methods("GET")

	e.server = &http.Server{Handler: router}
	return e
}

// Run binds the admin listener and applies every snapshot received on
// snapshots to the gauge set until ctx is cancelled or the HTTP server
// fails. GaugeVecs are reset on every tick so a disconnected client's
// per-IP series disappears instead of lingering at its last value.
func (e *Exporter) Run(ctx context.Context, snapshots <-chan statistics.Snapshot) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", e.listenAddress, err)
	}
	e.listener = ln

	errCh := make(chan error, 1)
	go func() { errCh <- e.server.Serve(ln) }()
	e.ready.Store(true)

	log.Info().Str("address", e.listenAddress).Msg("metrics exporter listening")

	for {
		select {
		case <-ctx.Done():
			e.ready.Store(false)
			return e.server.Shutdown(context.Background())
		case err := <-errCh:
			e.ready.Store(false)
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics: serve: %w", err)
			}
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				continue
			}
			e.apply(snap)
		}
	}
}

func (e *Exporter) apply(snap statistics.Snapshot) {
	e.ipsV6.Set(float64(snap.IPsV6))
	e.ipsV4.Set(float64(snap.IPsV4))
	e.frame.Set(float64(snap.Frame))
	e.statisticEvents.Set(float64(snap.StatisticEvents))

	e.connections.Reset()
	for ip, count := range snap.ConnectionsForIP {
		e.connections.WithLabelValues(ip).Set(float64(count))
	}
	e.deniedConns.Reset()
	for ip, count := range snap.DeniedConnectionsForIP {
		e.deniedConns.WithLabelValues(ip).Set(float64(count))
	}
	e.bytes.Reset()
	for ip, count := range snap.BytesForIP {
		e.bytes.WithLabelValues(ip).Set(float64(count))
	}
}

func (e *Exporter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !e.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleSnapshot dumps the framebuffer's raw ARGB8888 backing store.
// This is an operator escape hatch, not a rendering pipeline: no
// encoding, no compression, just the same byte view spec.md §6
// already exports.
func (e *Exporter) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/x-pixelflut-argb8888")
	w.Header().Set("X-Canvas-Width", fmt.Sprintf("%d", e.fb.Width()))
	w.Header().Set("X-Canvas-Height", fmt.Sprintf("%d", e.fb.Height()))
	w.Write(e.fb.AsBytes())
}
