package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/history"
	"github.com/inboxd/inboxd/internal/identity"
	"github.com/inboxd/inboxd/internal/observability"
	"github.com/inboxd/inboxd/internal/protocol"
	"github.com/inboxd/inboxd/internal/rooms"
	"github.com/inboxd/inboxd/internal/runtime"
	"github.com/inboxd/inboxd/internal/task"
)

type Server struct {
	cfg      config.Config
	rooms    *rooms.Registry
	resolver identity.Resolver
	tasks    *runtime.Service
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, roomRegistry *rooms.Registry, resolver identity.Resolver, tasks *runtime.Service, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		rooms:    roomRegistry,
		resolver: resolver,
		tasks:    tasks,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other sites cannot drive a user's
				// email session if the service is exposed beyond localhost.
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

	r.Get("/v1/email-tool/ws", s.handleWS)
	r.Post("/v1/email-tool/run", s.handleRunTask)
	r.Get("/v1/email-tool/sessions/{session_id}/result", s.handleSessionResult)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.tasks.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.tasks.StoreMode(),
	})
}

type runTaskRequest struct {
	UserID    protocol.ID `json:"user_id"`
	SessionID protocol.ID `json:"session_id"`
	Query     string      `json:"query"`
}

type runTaskResponse struct {
	ExecutionID string `json:"execution_id"`
	Room        string `json:"room"`
}

// handleRunTask is the out-of-band trigger that starts a task
// execution for a session. Progress is delivered over the session's
// room, not this response.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := req.UserID.String()
	sessionID := req.SessionID.String()
	query := strings.TrimSpace(req.Query)
	if userID == "" || sessionID == "" || query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id, session_id and query are required")
		return
	}

	execID, err := s.tasks.StartTask(userID, sessionID, query)
	if err != nil {
		if errors.Is(err, task.ErrExecutionActive) {
			respondError(w, http.StatusConflict, "task_active", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, runTaskResponse{
		ExecutionID: execID,
		Room:        rooms.Name(userID, sessionID),
	})
}

type sessionResultResponse struct {
	Query           string                 `json:"query"`
	Success         bool                   `json:"success"`
	TotalIterations int                    `json:"total_iterations"`
	Summary         string                 `json:"summary"`
	Iterations      []task.IterationRecord `json:"iterations"`
	Timestamp       string                 `json:"timestamp"`
}

// handleSessionResult replays the persisted result of the session's
// latest task execution. Replay is read-only and never re-triggers
// auth or approval events.
func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if sessionID == "" || userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id and user_id are required")
		return
	}

	rec, err := s.tasks.LatestRecord(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "no task ran for this session")
			return
		}
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sessionResultResponse{
		Query:           rec.Query,
		Success:         rec.Result.Success,
		TotalIterations: rec.Result.TotalIterations,
		Summary:         rec.Result.Summary,
		Iterations:      rec.Result.Iterations,
		Timestamp:       rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
