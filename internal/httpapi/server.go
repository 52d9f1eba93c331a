// Package httpapi serves the agent's HTTP surface: ad-hoc task execution,
// connector tests, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
)

// Server routes HTTP requests into the source facade.
type Server struct {
	facade *source.Facade
	store  *config.CredentialStore
	router chi.Router
}

// NewServer builds the HTTP API server.
func NewServer(facade *source.Facade, store *config.CredentialStore) *Server {
	s := &Server{facade: facade, store: store}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/executor/execute_task", s.handleExecuteTask)
	r.Post("/connectors/test", s.handleTestConnector)

	s.router = r
	return s
}

// Handler returns the underlying router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the context is cancelled, then drains with a
// short shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http api listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

type executeTaskRequest struct {
	TimeRange         *source.TimeRange `json:"time_range,omitempty"`
	GlobalVariableSet map[string]any    `json:"global_variable_set,omitempty"`
	Task              source.Task       `json:"task"`
}

type executeTaskResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Results []source.TaskResult `json:"results,omitempty"`
}

// handleExecuteTask runs one task and always answers 200 with a
// success/results envelope; only undecodable bodies get a 400.
func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, executeTaskResponse{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}
	if req.Task.Source == source.SourceUnknown {
		writeJSON(w, http.StatusBadRequest, executeTaskResponse{Success: false, Message: "task source is required"})
		return
	}

	tr := trailingWindow(req.TimeRange)
	observeTaskExecution(req.Task.Source)

	results := s.facade.ExecuteTask(r.Context(), tr, req.GlobalVariableSet, req.Task)
	for _, result := range results {
		if result.Type == source.ResultTypeError {
			observeTaskError(req.Task.Source)
		}
	}
	writeJSON(w, http.StatusOK, executeTaskResponse{Success: true, Results: results})
}

type testConnectorRequest struct {
	ConnectorName string `json:"connector_name"`
}

type testConnectorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleTestConnector(w http.ResponseWriter, r *http.Request) {
	var req testConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, testConnectorResponse{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}
	conn, err := s.store.Connector(req.ConnectorName)
	if err != nil {
		writeJSON(w, http.StatusOK, testConnectorResponse{Success: false, Message: err.Error()})
		return
	}
	ok, message := s.facade.TestConnection(r.Context(), conn)
	writeJSON(w, http.StatusOK, testConnectorResponse{Success: ok, Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// trailingWindow fills in a default 4-hour lookback when the request omits
// the time range.
func trailingWindow(tr *source.TimeRange) source.TimeRange {
	if tr != nil && tr.LT != 0 {
		return *tr
	}
	now := time.Now().Unix()
	return source.TimeRange{GEQ: now - 4*3600, LT: now}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Error("failed to encode response", "error", err)
	}
}
