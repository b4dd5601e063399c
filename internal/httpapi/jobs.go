package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/interview-agent/internal/agent"
	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/transcript"
)

type dispatchRequest struct {
	Room     string            `json:"room"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type transcriptResponse struct {
	JobID string             `json:"job_id"`
	Turns []transcript.Turn  `json:"turns"`
	Usage *usageResponseBody `json:"usage,omitempty"`
}

type usageResponseBody struct {
	LLMPromptTokens     int     `json:"llm_prompt_tokens"`
	LLMCompletionTokens int     `json:"llm_completion_tokens"`
	TTSCharactersCount  int     `json:"tts_characters_count"`
	TTSAudioSeconds     float64 `json:"tts_audio_seconds"`
	STTAudioSeconds     float64 `json:"stt_audio_seconds"`
}

func (s *Server) handleDispatchJob(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "room is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Room = strings.TrimSpace(req.Room)
	if req.Room == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "room is required")
		return
	}

	job, err := s.worker.Dispatch(req.Room, req.Metadata)
	switch {
	case errors.Is(err, jobs.ErrRoomBusy):
		respondError(w, http.StatusConflict, "room_busy", err.Error())
		return
	case errors.Is(err, agent.ErrWorkerClosed):
		respondError(w, http.StatusServiceUnavailable, "worker_closed", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "dispatch_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveJobDispatched()
	}
	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := jobs.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	all := s.jobs.List()
	out := make([]*jobs.Job, 0, len(all))
	for _, j := range all {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleEndJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	if !job.Active() {
		respondError(w, http.StatusConflict, "job_not_running", "job already "+string(job.Status))
		return
	}
	if err := s.worker.End(id); err != nil {
		if errors.Is(err, agent.ErrJobNotRunning) {
			respondError(w, http.StatusConflict, "job_not_running", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.jobs.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	turns, err := s.transcripts.Turns(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	resp := transcriptResponse{JobID: id, Turns: turns}
	if resp.Turns == nil {
		resp.Turns = []transcript.Turn{}
	}
	summary, err := s.transcripts.Usage(r.Context(), id)
	switch {
	case err == nil:
		resp.Usage = &usageResponseBody{
			LLMPromptTokens:     summary.LLMPromptTokens,
			LLMCompletionTokens: summary.LLMCompletionTokens,
			TTSCharactersCount:  summary.TTSCharactersCount,
			TTSAudioSeconds:     summary.TTSAudioDuration.Seconds(),
			STTAudioSeconds:     summary.STTAudioDuration.Seconds(),
		}
	case !errors.Is(err, transcript.ErrNoUsage):
		respondError(w, http.StatusInternalServerError, "usage_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
