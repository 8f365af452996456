package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"NewsParser/internal/conversation"
	"NewsParser/internal/domain"
	"NewsParser/internal/tasks"
	"NewsParser/internal/usecase"
)

const maxBodyBytes = 1 << 20

type chatRequest struct {
	Message string           `json:"message" validate:"required"`
	History []domain.Message `json:"history" validate:"dive"`
}

type titleRequest struct {
	Query string `json:"query" validate:"required"`
}

type fetchResponse struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type taskView struct {
	domain.Task
	StartedAtFormatted   string   `json:"started_at_formatted"`
	CompletedAtFormatted *string  `json:"completed_at_formatted,omitempty"`
	DurationSeconds      *float64 `json:"duration_seconds,omitempty"`
}

type jobView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	NextRun *string `json:"next_run"`
	Trigger string  `json:"trigger"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the News Parser API!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "timestamp": s.timestamp()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "No message provided")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid chat history: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for ev := range s.chat.Stream(r.Context(), req.Message, req.History) {
		var payload any
		switch ev.Kind {
		case conversation.EventChunk:
			payload = map[string]string{"chunk": ev.Text}
		case conversation.EventDone:
			payload = map[string]bool{"done": true}
		case conversation.EventError:
			msg := "chat failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			payload = map[string]string{"error": msg}
		default:
			continue
		}
		if err := writeEvent(w, payload); err != nil {
			s.logger.Debug("chat client went away", "err", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func (s *Server) handleChatTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "No query provided")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "No query provided")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"title":     s.chat.Title(r.Context(), req.Query),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id, started, err := s.ingestion.TriggerRun(r.Context(), domain.TaskManual)
	if errors.Is(err, usecase.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("manual fetch not started", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := fetchResponse{
		Status:    "started",
		TaskID:    id,
		Message:   "Feed fetch started in the background",
		Timestamp: s.timestamp(),
	}
	if !started {
		resp.Status = "already_running"
		resp.Message = "A feed fetch is already running"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, err := s.ingestion.Task(id)
	if errors.Is(err, tasks.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found", "task_id": id})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task":      newTaskView(task),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.ingestion.Status()
	jobs := make([]jobView, 0, len(st.Jobs))
	for _, j := range st.Jobs {
		v := jobView{ID: j.ID, Name: j.Name, Trigger: fmt.Sprintf("interval[%s]", j.Interval)}
		if !j.NextRun.IsZero() {
			next := j.NextRun.Format(time.RFC3339)
			v.NextRun = &next
		}
		jobs = append(jobs, v)
	}

	status := "stopped"
	if st.Running {
		status = "running"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"jobs":      jobs,
		"timestamp": s.timestamp(),
	})
}

func newTaskView(t domain.Task) taskView {
	v := taskView{Task: t, StartedAtFormatted: t.StartedAt.Format(time.RFC3339)}
	if t.CompletedAt != nil {
		completed := t.CompletedAt.Format(time.RFC3339)
		duration := math.Round(t.CompletedAt.Sub(t.StartedAt).Seconds()*10) / 10
		v.CompletedAtFormatted = &completed
		v.DurationSeconds = &duration
	}
	return v
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
