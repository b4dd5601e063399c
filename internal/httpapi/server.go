// Package httpapi exposes the worker's control API and the websocket
// transport candidates use to join interview rooms.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/interview-agent/internal/config"
	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/observability"
	"github.com/ent0n29/interview-agent/internal/room"
	"github.com/ent0n29/interview-agent/internal/transcript"
)

// Worker is the part of the agent worker the API drives.
type Worker interface {
	Prewarm() error
	Dispatch(roomName string, metadata map[string]string) (*jobs.Job, error)
	End(jobID string) error
}

type Server struct {
	cfg         config.Config
	worker      Worker
	jobs        *jobs.Manager
	rooms       *room.Hub
	transcripts transcript.Store
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, worker Worker, jobManager *jobs.Manager, rooms *room.Hub, transcripts transcript.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		worker:      worker,
		jobs:        jobManager,
		rooms:       rooms,
		transcripts: transcripts,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
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
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleDispatchJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/end", s.handleEndJob)
		r.Get("/{id}/transcript", s.handleJobTranscript)
	})
	r.Get("/v1/rooms/{room}/ws", s.handleRoomWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"agent_name":  s.cfg.AgentName,
		"active_jobs": s.jobs.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.worker.Prewarm(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"rooms":  s.rooms.Names(),
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
