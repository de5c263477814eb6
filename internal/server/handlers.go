package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/veilware/textveil/internal/events"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/pseudonymizer"
)

type pseudonymizeRequest struct {
	Text               string   `json:"text,omitempty"`
	Texts              []string `json:"texts,omitempty"`
	Language           string   `json:"language,omitempty"`
	PreserveFormatting *bool    `json:"preserve_formatting,omitempty"`
	SessionID          string   `json:"session_id,omitempty"`
	MinConfidence      float64  `json:"min_confidence,omitempty"`
}

type pseudonymizeResponse struct {
	PseudonymizedText  string   `json:"pseudonymized_text,omitempty"`
	PseudonymizedTexts []string `json:"pseudonymized_texts,omitempty"`
	DetectedLanguage   string   `json:"detected_language"`
	EntityCount        int      `json:"entity_count"`
	SessionID          string   `json:"session_id"`
	Degraded           bool     `json:"degraded,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// handlePseudonymize runs the engine over one text or a batch.
func (s *Server) handlePseudonymize(w http.ResponseWriter, r *http.Request) {
	var req pseudonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	single := req.Texts == nil
	texts := req.Texts
	if single {
		texts = []string{req.Text}
	}

	preserve := true
	if req.PreserveFormatting != nil {
		preserve = *req.PreserveFormatting
	}

	start := time.Now()
	result, err := s.engine.Pseudonymize(r.Context(), texts, pseudonymizer.Options{
		Language:           req.Language,
		PreserveFormatting: preserve,
		SessionID:          req.SessionID,
		MinConfidence:      req.MinConfidence,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(events.Event{
			Type:      events.EventTypeDetection,
			Timestamp: time.Now(),
			RequestID: getRequestID(r.Context()),
			Data: events.DetectionEvent{
				RequestID:    getRequestID(r.Context()),
				SessionID:    result.SessionID,
				Language:     result.DetectedLanguage,
				Texts:        len(texts),
				EntityCount:  result.EntityCount,
				EntityCounts: result.EntityCounts,
				Degraded:     result.Degraded,
				ProcessingMS: float64(time.Since(start).Microseconds()) / 1000,
			},
		})
	}

	resp := pseudonymizeResponse{
		DetectedLanguage: result.DetectedLanguage,
		EntityCount:      result.EntityCount,
		SessionID:        result.SessionID,
		Degraded:         result.Degraded,
		Warnings:         result.Warnings,
	}
	if single {
		resp.PseudonymizedText = result.Texts[0]
	} else {
		resp.PseudonymizedTexts = result.Texts
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDetectLanguage exposes the language classifier.
func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	language, confidence := s.engine.DetectLanguage(req.Text)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"language":   language,
		"confidence": confidence,
	})
}

// handleGetMappings returns a session's mappings and statistics. Unknown
// sessions read as empty.
func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	mappings, stats := s.engine.Mappings(sessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappings":   mappings,
		"statistics": stats,
	})
}

// handleExportMappings returns the full serialized payload for a session.
func (s *Server) handleExportMappings(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, s.engine.ExportMappings(sessionID))
}

// handleImportMappings merges a payload into a session.
func (s *Server) handleImportMappings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var envelope struct {
		SessionID string          `json:"session_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	payload := body
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Payload != nil {
		payload = envelope.Payload
	}

	sessionID, err := s.engine.ImportMappings(payload, envelope.SessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(events.Event{
			Type:      events.EventTypeSession,
			Timestamp: time.Now(),
			Data:      events.SessionEvent{Action: "imported", SessionID: sessionID},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

// handleClearSession removes a session. Unknown ids are a no-op success.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	s.engine.ClearSession(sessionID)

	if s.hub != nil {
		s.hub.BroadcastEvent(events.Event{
			Type:      events.EventTypeSession,
			Timestamp: time.Now(),
			Data:      events.SessionEvent{Action: "cleared", SessionID: sessionID},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleListSessions lists active session ids.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.ListSessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_ids": ids,
		"count":       len(ids),
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	var validationErr *pseudonymizer.ValidationError
	var mappingErr *mapping.ValidationError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &mappingErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   true,
		"message": message,
	})
}
