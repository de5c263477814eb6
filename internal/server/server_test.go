package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/langdetect"
	"github.com/veilware/textveil/internal/logger"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/model"
	"github.com/veilware/textveil/internal/patterns"
	"github.com/veilware/textveil/internal/pseudonymizer"
)

func newTestServer(t *testing.T, service model.Service) *Server {
	t.Helper()
	log := logger.NewNop()
	cfg := config.GetDefaults()
	cfg.Engine.MaxTextLength = 500

	detector, err := patterns.New(cfg.Patterns, log)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	var adapter *model.Adapter
	if service != nil {
		adapter = model.NewAdapter(service, cfg.Model, log)
	}
	engine := pseudonymizer.New(cfg.Engine, detector, adapter, langdetect.NewStopword(), mapping.NewStore(log), nil, log)
	return New(cfg, engine, nil, log)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// TestPseudonymizeEndpoint tests the main API surface
func TestPseudonymizeEndpoint(t *testing.T) {
	s := newTestServer(t, model.NewStub(
		model.StubEntry{Text: "John Smith", Label: "PER"},
	))

	t.Run("SingleText", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/pseudonymize", map[string]interface{}{
			"text":     "John Smith wrote to max@example.com.",
			"language": "en",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp pseudonymizeResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Bad response body: %v", err)
		}
		if resp.PseudonymizedText != "PERSON_1 wrote to EMAIL_1." {
			t.Errorf("Wrong output: %q", resp.PseudonymizedText)
		}
		if len(resp.PseudonymizedTexts) != 0 {
			t.Error("Single-text request answered with batch field")
		}
		if resp.EntityCount != 2 || resp.SessionID == "" {
			t.Errorf("Metadata wrong: %+v", resp)
		}
	})

	t.Run("BatchTexts", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/pseudonymize", map[string]interface{}{
			"texts":    []string{"John Smith called.", "Then John Smith left."},
			"language": "en",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var resp pseudonymizeResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.PseudonymizedTexts) != 2 {
			t.Fatalf("Expected 2 outputs, got %v", resp.PseudonymizedTexts)
		}
		if resp.PseudonymizedTexts[1] != "Then PERSON_1 left." {
			t.Errorf("Batch consistency broken: %v", resp.PseudonymizedTexts)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/pseudonymize", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("OversizedText", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/pseudonymize", map[string]interface{}{
			"text": strings.Repeat("a", 501),
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for oversized text, got %d", rec.Code)
		}
	})

	t.Run("MissingText", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/pseudonymize", map[string]interface{}{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for empty request, got %d", rec.Code)
		}
	})
}

// TestSessionEndpoints tests the mapping lifecycle over HTTP
func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, model.NewStub(
		model.StubEntry{Text: "John Smith", Label: "PER"},
	))

	rec := doJSON(t, s, "POST", "/v1/pseudonymize", map[string]interface{}{
		"text":     "John Smith was here.",
		"language": "en",
	})
	var created pseudonymizeResponse
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.SessionID == "" {
		t.Fatal("No session id returned")
	}

	t.Run("GetMappings", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/v1/sessions/"+created.SessionID+"/mappings", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var resp struct {
			Mappings   map[string]string  `json:"mappings"`
			Statistics mapping.Statistics `json:"statistics"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Mappings["PERSON:john smith"] != "PERSON_1" {
			t.Errorf("Mappings wrong: %v", resp.Mappings)
		}
		if resp.Statistics.TotalEntities != 1 {
			t.Errorf("Statistics wrong: %+v", resp.Statistics)
		}
	})

	t.Run("ListSessions", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/v1/sessions", nil)
		var resp struct {
			SessionIDs []string `json:"session_ids"`
			Count      int      `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		found := false
		for _, id := range resp.SessionIDs {
			if id == created.SessionID {
				found = true
			}
		}
		if !found || resp.Count != len(resp.SessionIDs) {
			t.Errorf("Session listing wrong: %+v", resp)
		}
	})

	t.Run("ExportImportRoundTrip", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/v1/sessions/"+created.SessionID+"/export", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Export failed: %d", rec.Code)
		}
		var payload mapping.ExportPayload
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("Bad export payload: %v", err)
		}

		rec = doJSON(t, s, "POST", "/v1/sessions/import", map[string]interface{}{
			"session_id": "restored",
			"payload":    payload,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Import failed: %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, s, "GET", "/v1/sessions/restored/mappings", nil)
		var resp struct {
			Mappings map[string]string `json:"mappings"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Mappings["PERSON:john smith"] != "PERSON_1" {
			t.Errorf("Round trip lost the mapping: %v", resp.Mappings)
		}
	})

	t.Run("ImportRejectsMalformed", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/sessions/import", map[string]interface{}{
			"session_id": "bad",
			"payload":    map[string]string{"PERSON:max": "PERSON_abc"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for malformed placeholder, got %d", rec.Code)
		}
	})

	t.Run("DeleteSession", func(t *testing.T) {
		rec := doJSON(t, s, "DELETE", "/v1/sessions/"+created.SessionID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Delete failed: %d", rec.Code)
		}
		rec = doJSON(t, s, "GET", "/v1/sessions/"+created.SessionID+"/mappings", nil)
		var resp struct {
			Mappings map[string]string `json:"mappings"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Mappings) != 0 {
			t.Errorf("Deleted session still has mappings: %v", resp.Mappings)
		}
	})

	t.Run("DeleteUnknownSessionSucceeds", func(t *testing.T) {
		rec := doJSON(t, s, "DELETE", "/v1/sessions/never-existed", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected idempotent delete, got %d", rec.Code)
		}
	})
}

// TestUtilityEndpoints tests health, info, and language detection
func TestUtilityEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/health", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("Info", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/info", nil)
		var resp struct {
			Name      string   `json:"name"`
			Detectors []string `json:"detectors"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Name != "textveil" || len(resp.Detectors) == 0 {
			t.Errorf("Info payload wrong: %+v", resp)
		}
	})

	t.Run("DetectLanguage", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/v1/detect-language", map[string]string{
			"text": "Der Vertrag ist nicht unterschrieben und wurde besprochen.",
		})
		var resp struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Language != "de" || resp.Confidence <= 0.5 {
			t.Errorf("Language detection wrong: %+v", resp)
		}
	})
}

// TestRateLimiting tests the per-client token bucket
func TestRateLimiting(t *testing.T) {
	s := newTestServer(t, nil)
	s.limiter = newClientLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	first := doJSON(t, s, "GET", "/v1/sessions", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("First request rejected: %d", first.Code)
	}
	second := doJSON(t, s, "GET", "/v1/sessions", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst exhausted, got %d", second.Code)
	}
}
