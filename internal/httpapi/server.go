package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/donna/internal/config"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/observability"
	"github.com/antoniostano/donna/internal/pipeline"
)

// Detector is the change-detection side of the service: poll the calendar on
// demand and report the current upcoming events.
type Detector interface {
	Tick(ctx context.Context) []events.Event
	Snapshot(ctx context.Context) ([]events.Event, error)
}

// Pipeline advances events through both agent stages and owns task state.
type Pipeline interface {
	Orchestrate(ctx context.Context, current []events.Event) []events.Event
	UpdateTaskStatus(ctx context.Context, eventID, taskID string, newStatus events.Status) (events.Task, error)
	ResetEvent(ctx context.Context, eventID string) error
	Feed() *pipeline.Feed
}

type Server struct {
	cfg      config.Config
	detector Detector
	pipeline Pipeline
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, detector Detector, pipe Pipeline, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		detector: detector,
		pipeline: pipe,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot watch the pipeline
				// feed if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/events/detect", s.handleDetect)
	r.Get("/v1/events", s.handleListEvents)
	r.Post("/v1/events/orchestrate", s.handleOrchestrate)
	r.Post("/v1/events/{eventID}/tasks/{taskID}/status", s.handleTaskStatus)
	r.Post("/v1/events/{eventID}/reset", s.handleReset)
	r.Get("/v1/pipeline/ws", s.handlePipelineWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"provider": s.cfg.CalendarProvider,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
