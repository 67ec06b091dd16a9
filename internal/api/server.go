// Package api serves the read-only dashboard surface: system status,
// positions, risk-gate rejection counts, runtime health, the current
// watchlist, the markdown eval artifact, and a Prometheus /metrics
// endpoint. It never drives the trader; it only reads from the broker,
// risk gate, and telemetry store the trader already owns.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/havenquant/spreadkeeper/internal/broker"
	"github.com/havenquant/spreadkeeper/internal/selector"
	"github.com/havenquant/spreadkeeper/internal/telemetry"
)

// Broker is the subset of *broker.Broker the dashboard reads.
type Broker interface {
	Positions() map[string]broker.Position
	Counters() broker.Counters
	OpenOrders() []broker.Order
}

// Gate is the subset of *risk.Gate the dashboard reads.
type Gate interface {
	RejectCounts() map[string]uint64
}

// Server is the dashboard/metrics HTTP surface.
type Server struct {
	httpServer *http.Server
	book       Broker
	gate       Gate
	store      *telemetry.Store
	startedAt  time.Time

	lastWatchlist []selector.Selected

	metrics metricSet
}

// metricSet mirrors the broker's and risk gate's own running totals into
// Prometheus. Gauges, not Counters, because the broker (not Prometheus) is
// the source of truth for these totals; Observe just republishes them.
type metricSet struct {
	fills          prometheus.Gauge
	rejected       prometheus.Gauge
	cancelFailures prometheus.Gauge
	placed         prometheus.Gauge
	riskRejects    *prometheus.GaugeVec
}

// NewServer builds a Server bound to addr. It does not start listening
// until Start is called.
func NewServer(addr string, book Broker, gate Gate, store *telemetry.Store) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	s := &Server{
		book:      book,
		gate:      gate,
		store:     store,
		startedAt: time.Now(),
		metrics: metricSet{
			fills:          promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "spreadkeeper_fills_total", Help: "Total fills recorded by the paper broker."}),
			rejected:       promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "spreadkeeper_orders_rejected_total", Help: "Total orders rejected by simulated fault injection."}),
			cancelFailures: promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "spreadkeeper_cancel_failures_total", Help: "Total cancel attempts that failed against non-atomic orders."}),
			placed:         promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "spreadkeeper_orders_placed_total", Help: "Total orders placed."}),
			riskRejects:    promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{Name: "spreadkeeper_risk_rejects_total", Help: "Risk-gate rejections by reason code."}, []string{"reason"}),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/risk", s.handleRisk)
	mux.HandleFunc("/api/runtime_status", s.handleRuntimeStatus)
	mux.HandleFunc("/api/watchlist", s.handleWatchlist)
	mux.HandleFunc("/api/fills", s.handleFills)
	mux.HandleFunc("/api/pnl", s.handlePnL)
	mux.HandleFunc("/api/eval.md", s.handleEvalMarkdown)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetWatchlist is called periodically by cmd/spreadkeeper's observe loop
// with the trader's current watchlist, so /api/watchlist can serve it
// without a direct channel read racing the trader's own consumer.
func (s *Server) SetWatchlist(selected []selector.Selected) {
	s.lastWatchlist = selected
}

// Observe republishes the broker's current counters and the risk gate's
// reject counts to Prometheus. Call it periodically (e.g. on the snapshot
// tick cadence); it's cheap and idempotent.
func (s *Server) Observe() {
	c := s.book.Counters()
	s.metrics.fills.Set(float64(c.Filled))
	s.metrics.rejected.Set(float64(c.Rejected))
	s.metrics.cancelFailures.Set(float64(c.CancelFailures))
	s.metrics.placed.Set(float64(c.Placed))

	for reason, n := range s.gate.RejectCounts() {
		s.metrics.riskRejects.WithLabelValues(reason).Set(float64(n))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/status — broker activity counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"counters":    s.book.Counters(),
		"open_orders": len(s.book.OpenOrders()),
		"uptime_s":    time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/positions — every tracked position.
func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.book.Positions())
}

// GET /api/risk — rolling risk-gate rejection counts by reason code.
func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.gate.RejectCounts())
}

// GET /api/runtime_status — every component's last-reported health.
func (s *Server) handleRuntimeStatus(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		s.writeJSON(w, []telemetry.RuntimeStatus{})
		return
	}
	rows, err := s.store.RuntimeStatuses()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

// GET /api/watchlist — the current selected markets with their scores.
func (s *Server) handleWatchlist(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.lastWatchlist)
}

// GET /api/fills — the most recent persisted fills, newest first.
func (s *Server) handleFills(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		s.writeJSON(w, []telemetry.FillRow{})
		return
	}
	rows, err := s.store.RecentFills(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

// GET /api/pnl — the latest rolled-up realized/unrealized PnL snapshot.
func (s *Server) handlePnL(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		s.writeJSON(w, telemetry.PnLSnapshot{})
		return
	}
	snap, _, err := s.store.LatestPnLSnapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snap)
}

// GET /api/eval.md — the most recent eval-tick markdown artifact.
func (s *Server) handleEvalMarkdown(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(s.store.EvalPath())
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}
