// Package diagstatus is the operator-only diagnostics HTTP surface: a
// /status endpoint reporting the sending state machine's current state
// and a /metrics endpoint for prometheus scraping. Not part of the core;
// started only when the host binary is configured with a non-zero
// diagnostics port.
package diagstatus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/sending"
)

// allStates lists every sending.State the /metrics state gauge tracks.
var allStates = []string{
	sending.StateInit.String(),
	sending.StateCaptureOn.String(),
	sending.StateCaptureOff.String(),
	sending.StateFlushSessions.String(),
	sending.StateTerminal.String(),
}

// Config configures the diagnostics listener. Port 0 means disabled;
// the host binary skips starting the server entirely in that case.
type Config struct {
	Host string
	Port int
}

// Server is the diagnostics HTTP server.
type Server struct {
	httpSrv *http.Server
	log     logrus.FieldLogger
	metrics *Metrics
	cache   *beacon.Cache
	sendCtx *sending.Context
}

// NewServer wires a gorilla/mux router (recovered by a negroni stack)
// exposing /status and /metrics. cache and sendCtx back the live
// gauges; registry is typically prometheus.DefaultRegisterer.
func NewServer(cfg Config, cache *beacon.Cache, sendCtx *sending.Context, registry prometheus.Registerer, log logrus.FieldLogger) *Server {
	s := &Server{
		log:     log.WithField("component", "diagstatus"),
		metrics: NewMetrics(registry),
		cache:   cache,
		sendCtx: sendCtx,
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)

	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Port),
		Handler:      n,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins serving in the background. Errors after shutdown are
// swallowed (http.ErrServerClosed); anything else is logged at error
// level since the diagnostics port was explicitly requested by the
// operator. The agent keeps running either way.
func (s *Server) Start() {
	s.log.WithField("addr", s.httpSrv.Addr).Info("starting diagnostics server")

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("diagnostics server stopped unexpectedly")
		}
	}()
}

// Stop closes the listener and any open connections immediately;
// in-flight requests are not drained.
func (s *Server) Stop() {
	_ = s.httpSrv.Close()
}

type statusDocument struct {
	State                 string `json:"state"`
	ShutdownRequested     bool   `json:"shutdown_requested"`
	LastOpenSessionSendMs int64  `json:"last_open_session_send_ms"`
	CacheBytes            int64  `json:"cache_bytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	current := s.sendCtx.Current().String()

	s.metrics.SetState(current, allStates)
	s.metrics.CacheBytes.Set(float64(s.cache.TotalSize()))
	s.metrics.CacheEntries.Set(float64(len(s.cache.Keys())))

	doc := statusDocument{
		State:                 current,
		ShutdownRequested:     s.sendCtx.ShutdownRequested(),
		LastOpenSessionSendMs: s.sendCtx.LastOpenSessionSendMs(),
		CacheBytes:            s.cache.TotalSize(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
