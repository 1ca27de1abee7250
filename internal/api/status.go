package api

import (
	"encoding/json"
	"net/http"
	"time"

	"rcie/domain/graph"
	"rcie/internal"
	"rcie/internal/observability"
	"rcie/internal/workflow"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// EventGraphReplaced is published after every successful discovery.
const EventGraphReplaced = "graph.replaced"

// StatusServer exposes a read-only view of a workflow controller
type StatusServer struct {
	ctrl        *workflow.Controller
	metrics     *observability.Collector
	logger      *internal.Logger
	hub         *EventHub
	unsubscribe func()
}

// NewStatusServer creates a status server and starts forwarding graph
// replacements to its event stream. metrics may be nil.
func NewStatusServer(ctrl *workflow.Controller, metrics *observability.Collector, logger *internal.Logger) *StatusServer {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	s := &StatusServer{
		ctrl:    ctrl,
		metrics: metrics,
		logger:  logger,
		hub:     NewEventHub(logger),
	}
	s.unsubscribe = ctrl.Graph().Subscribe(func(ev graph.Replaced) {
		s.hub.Publish(Event{Type: EventGraphReplaced, Data: ev})
	})
	return s
}

// Close detaches from the controller and ends open event streams.
func (s *StatusServer) Close() {
	s.unsubscribe()
	s.hub.Close()
}

// Events is the server's event hub.
func (s *StatusServer) Events() *EventHub { return s.hub }

// Routes builds the HTTP handler.
func (s *StatusServer) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(s.requestLogger)

	router.Get("/healthz", s.healthCheck)
	router.Get("/state", s.state)
	router.Get("/events", s.hub.ServeHTTP)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return router
}

func (s *StatusServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"graph_version": s.ctrl.Graph().Version(),
		"sse_clients":   s.hub.ClientCount(),
	})
}

func (s *StatusServer) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *StatusServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("[Status] %s %s %d %dB in %s (request %s)",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), chimiddleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
