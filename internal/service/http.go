package service

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/andrej220/capstan/pkg/lg"
	"github.com/andrej220/capstan/pkg/serverutil"
	dm "github.com/andrej220/capstan/pkg/shared-models"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/google/uuid"
)

// TaskInfo describes a registered task.
type TaskInfo struct {
	Task         string   `json:"task"`
	Description  string   `json:"description,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Except       string   `json:"except,omitempty"`
	AllowNoHosts bool     `json:"allow_no_hosts,omitempty"`
	Empty        bool     `json:"empty,omitempty"`
}

func Describe(defs []task.Definition) []TaskInfo {
	out := make([]TaskInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, TaskInfo{
			Task:         d.Key.String(),
			Description:  d.Description,
			Roles:        d.Roles,
			Except:       d.Except.String(),
			AllowNoHosts: d.AllowNoHosts,
			Empty:        d.Empty(),
		})
	}
	return out
}

// Handler serves the dispatch API. Jobs it queues live until ctx is done.
//
//	POST   /dispatch       queue a request, answers with its execution id
//	DELETE /dispatch/{id}  cancel a queued or running execution
//	GET    /reports/{id}   the stored report of a finished execution
//	GET    /tasks          registered tasks
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /dispatch", serverutil.NewValidationHandler[dm.Request](s.dispatchHandler(ctx)))
	mux.HandleFunc("DELETE /dispatch/{id}", s.cancelHandler)
	mux.HandleFunc("GET /reports/{id}", s.reportHandler)
	mux.HandleFunc("GET /tasks", func(rw http.ResponseWriter, _ *http.Request) {
		s.writeJSON(rw, http.StatusOK, Describe(s.Definitions()))
	})
	return mux
}

func (s *Service) dispatchHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		request, ok := serverutil.RequestFrom[dm.Request](r.Context())
		if !ok {
			http.Error(rw, "Internal server error", http.StatusInternalServerError)
			return
		}
		id, err := s.Submit(ctx, request)
		switch {
		case errors.Is(err, task.ErrInvalidKey):
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, ErrDuplicateExecution):
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		case err != nil:
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.logger.Info("Request queued", lg.String("task", request.Task), lg.String("exuid", id.String()))
		s.writeJSON(rw, http.StatusAccepted, dm.Response{ExecutionUID: id})
	})
}

func (s *Service) cancelHandler(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(rw, "invalid execution id", http.StatusBadRequest)
		return
	}
	if !s.Cancel(id) {
		http.Error(rw, "no such execution", http.StatusNotFound)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Service) reportHandler(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(rw, "invalid execution id", http.StatusBadRequest)
		return
	}
	var report json.RawMessage
	if err := s.Report(id, &report); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(rw, "no such report", http.StatusNotFound)
			return
		}
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(rw, http.StatusOK, report)
}

func (s *Service) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", lg.Err(err))
	}
}
