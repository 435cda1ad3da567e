package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

type submitJobRequest struct {
	WorkflowType  string          `json:"workflowType"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId"`
	MaxRetries    *int            `json:"maxRetries"`
	Metadata      json.RawMessage `json:"metadata"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

type deliverEventRequest struct {
	EventType string `json:"eventType"`
	EventKey  string `json:"eventKey"`
}

type jobResponse struct {
	ID                  string           `json:"id"`
	WorkflowType        string           `json:"workflow_type"`
	CorrelationID       string           `json:"correlation_id,omitempty"`
	Status              string           `json:"status"`
	RetryCount          int              `json:"retry_count"`
	MaxRetries          int              `json:"max_retries"`
	ErrorClassification string           `json:"error_classification,omitempty"`
	LastError           *string          `json:"last_error,omitempty"`
	ScheduledAt         time.Time        `json:"scheduled_at"`
	StartedAt           *time.Time       `json:"started_at,omitempty"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	FailedAt            *time.Time       `json:"failed_at,omitempty"`
	WaitingForEvent     *waitingResponse `json:"waiting_for_event,omitempty"`
	Result              json.RawMessage  `json:"result,omitempty"`
	History             []historyEntry   `json:"execution_history"`
}

type waitingResponse struct {
	EventType string    `json:"event_type"`
	EventKey  string    `json:"event_key"`
	TimeoutMS int64     `json:"timeout_ms"`
	PausedAt  time.Time `json:"paused_at"`
}

type historyEntry struct {
	Attempt      int        `json:"attempt"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	ErrorKind    *string    `json:"error_kind,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) submitJobHandler(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.WorkflowType == "" {
		writeError(w, http.StatusBadRequest, "workflowType is required")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	jobID, err := a.Submitter.Submit(r.Context(), engine.SubmitRequest{
		WorkflowType:  req.WorkflowType,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
		MaxRetries:    req.MaxRetries,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if faults.Classify(err) == faults.Permanent {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.Logger.Error("job submission failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID.String()})
}

func (a *App) deliverEventHandler(w http.ResponseWriter, r *http.Request) {
	var req deliverEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EventType == "" || req.EventKey == "" {
		writeError(w, http.StatusBadRequest, "eventType and eventKey are required")
		return
	}

	resumed, err := a.Resume.DeliverEvent(r.Context(), req.EventType, req.EventKey)
	if err != nil {
		a.Logger.Error("event delivery failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to deliver event")
		return
	}

	// A no-match delivery is a success, not an error: the job may have
	// already resumed, completed, or timed out.
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": resumed})
}

func (a *App) getJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := a.Store.Get(r.Context(), id)
	if err != nil && !errors.Is(err, engine.ErrJobNotFound) {
		a.Logger.Error("job load failed", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	history, err := a.Store.History(r.Context(), id)
	if err != nil {
		a.Logger.Error("history load failed", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job, history))
}

func toJobResponse(job *domain.Job, history []domain.ExecutionEntry) jobResponse {
	resp := jobResponse{
		ID:                  job.ID.String(),
		WorkflowType:        job.WorkflowType,
		CorrelationID:       job.CorrelationID,
		Status:              string(job.Status),
		RetryCount:          job.RetryCount,
		MaxRetries:          job.MaxRetries,
		ErrorClassification: job.ErrorClassification,
		LastError:           job.LastError,
		ScheduledAt:         job.ScheduledAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
		FailedAt:            job.FailedAt,
		Result:              job.Result,
		History:             make([]historyEntry, 0, len(history)),
	}
	if job.WaitingForEvent != nil {
		resp.WaitingForEvent = &waitingResponse{
			EventType: job.WaitingForEvent.EventType,
			EventKey:  job.WaitingForEvent.EventKey,
			TimeoutMS: job.WaitingForEvent.Timeout.Milliseconds(),
			PausedAt:  job.WaitingForEvent.PausedAt,
		}
	}
	for _, e := range history {
		resp.History = append(resp.History, historyEntry{
			Attempt:      e.Attempt,
			Status:       e.Status,
			StartedAt:    e.StartedAt,
			FinishedAt:   e.FinishedAt,
			DurationMS:   e.DurationMS,
			ErrorKind:    e.ErrorKind,
			ErrorMessage: e.ErrorMessage,
		})
	}
	return resp
}
