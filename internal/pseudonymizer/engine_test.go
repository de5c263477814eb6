package pseudonymizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/langdetect"
	"github.com/veilware/textveil/internal/logger"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/model"
	"github.com/veilware/textveil/internal/patterns"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxTextLength:   1000,
		MinConfidence:   0.5,
		DefaultLanguage: "en",
		BatchWorkers:    4,
	}
}

// newTestEngine builds an engine around a stub model service. service may be
// nil for pattern-only operation.
func newTestEngine(t *testing.T, service model.Service) *Engine {
	t.Helper()
	log := logger.NewNop()
	detector, err := patterns.New(config.PatternsConfig{}, log)
	if err != nil {
		t.Fatalf("Failed to create pattern detector: %v", err)
	}
	var adapter *model.Adapter
	if service != nil {
		adapter = model.NewAdapter(service, config.ModelConfig{MinConfidence: 0.5}, log)
	}
	return New(testEngineConfig(), detector, adapter, langdetect.NewStopword(), mapping.NewStore(log), nil, log)
}

// TestPseudonymize tests the single and batch pipeline end to end
func TestPseudonymize(t *testing.T) {
	ctx := context.Background()

	t.Run("CrossDocumentConsistency", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
			model.StubEntry{Text: "Microsoft", Label: "ORG"},
			model.StubEntry{Text: "Seattle", Label: "LOC"},
		))
		result, err := engine.Pseudonymize(ctx, []string{
			"John Smith works at Microsoft.",
			"Microsoft is in Seattle.",
		}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "PERSON_1 works at ORGANIZATION_1." {
			t.Errorf("First text wrong: %q", result.Texts[0])
		}
		if result.Texts[1] != "ORGANIZATION_1 is in LOCATION_1." {
			t.Errorf("Second text wrong: %q", result.Texts[1])
		}
		if result.EntityCount != 4 {
			t.Errorf("Expected 4 entities, got %d", result.EntityCount)
		}
		if result.Degraded {
			t.Error("Healthy run reported as degraded")
		}
	})

	t.Run("GermanShortFormResolution", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "Max Müller", Label: "PER"},
			model.StubEntry{Text: "Max", Label: "PER"},
			model.StubEntry{Text: "Berlin", Label: "LOC"},
			model.StubEntry{Text: "Siemens", Label: "ORG"},
		))
		result, err := engine.Pseudonymize(ctx, []string{
			"Max Müller wohnt in Berlin. Max arbeitet bei Siemens.",
		}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		want := "PERSON_1 wohnt in LOCATION_1. PERSON_1 arbeitet bei ORGANIZATION_1."
		if result.Texts[0] != want {
			t.Errorf("Expected %q, got %q", want, result.Texts[0])
		}
	})

	t.Run("PatternOnlyWithoutModel", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		result, err := engine.Pseudonymize(ctx, []string{
			"Write to max@example.com or call +49 30 123456789.",
		}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "Write to EMAIL_1 or call PHONE_1." {
			t.Errorf("Pattern replacement wrong: %q", result.Texts[0])
		}
		if result.Degraded {
			t.Error("Pattern-only configuration must not count as degraded")
		}
	})

	t.Run("StructuredTypeBeatsModelGuess", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "+49 30 123456789", Label: "PER", Confidence: 0.99},
		))
		result, err := engine.Pseudonymize(ctx, []string{
			"Erreichbar unter +49 30 123456789 heute.",
		}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "Erreichbar unter PHONE_1 heute." {
			t.Errorf("Model guess displaced the phone match: %q", result.Texts[0])
		}
	})

	t.Run("DateFormsShareOnePlaceholder", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		result, err := engine.Pseudonymize(ctx, []string{
			"Am 15.03.2023 und am 2023-03-15.",
		}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "Am DATE_1 und am DATE_1." {
			t.Errorf("Equivalent dates got different placeholders: %q", result.Texts[0])
		}
	})

	t.Run("EmptyTextPassesThrough", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
		))
		result, err := engine.Pseudonymize(ctx, []string{
			"",
			"John Smith was here.",
			"   ",
		}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "" || result.Texts[2] != "   " {
			t.Errorf("Empty inputs modified: %q, %q", result.Texts[0], result.Texts[2])
		}
		if result.Texts[1] != "PERSON_1 was here." {
			t.Errorf("Non-empty text wrong: %q", result.Texts[1])
		}
	})

	t.Run("BatchOrderPreserved", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "Alice Jones", Label: "PER"},
			model.StubEntry{Text: "Bob Brown", Label: "PER"},
		))
		texts := []string{
			"Alice Jones sent the report.",
			"No entities in this one.",
			"Bob Brown reviewed it.",
			"Alice Jones approved.",
		}
		result, err := engine.Pseudonymize(ctx, texts, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[1] != "No entities in this one." {
			t.Errorf("Entity-free text changed position or content: %q", result.Texts[1])
		}
		if strings.Contains(result.Texts[0], "Alice") || strings.Contains(result.Texts[2], "Bob") {
			t.Errorf("Names survived replacement: %v", result.Texts)
		}

		// The same mention must carry the same placeholder in both texts.
		alice := strings.Fields(result.Texts[0])[0]
		if !strings.HasPrefix(result.Texts[3], alice) {
			t.Errorf("Repeated mention got a different placeholder: %q vs %q",
				result.Texts[0], result.Texts[3])
		}
	})

	t.Run("SessionReuseAcrossCalls", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
		))
		first, err := engine.Pseudonymize(ctx, []string{"John Smith called."}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("First call failed: %v", err)
		}
		second, err := engine.Pseudonymize(ctx, []string{"Then John Smith left."}, Options{
			Language:           "en",
			PreserveFormatting: true,
			SessionID:          first.SessionID,
		})
		if err != nil {
			t.Fatalf("Second call failed: %v", err)
		}
		if second.SessionID != first.SessionID {
			t.Error("Session id changed between calls")
		}
		if second.Texts[0] != "Then PERSON_1 left." {
			t.Errorf("Placeholder not stable across calls: %q", second.Texts[0])
		}
	})

	t.Run("FreshSessionPerCallByDefault", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
		))
		first, _ := engine.Pseudonymize(ctx, []string{"John Smith."}, Options{Language: "en", PreserveFormatting: true})
		second, _ := engine.Pseudonymize(ctx, []string{"John Smith."}, Options{Language: "en", PreserveFormatting: true})
		if first.SessionID == second.SessionID {
			t.Error("Calls without a session id should not share one")
		}
	})
}

// TestDegradation tests model-failure fallback behavior
func TestDegradation(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelFailureDegradesToPatterns", func(t *testing.T) {
		engine := newTestEngine(t, model.NewFailingStub(errors.New("connection refused")))
		result, err := engine.Pseudonymize(ctx, []string{
			"John Smith wrote to max@example.com.",
		}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Model failure must not fail the request: %v", err)
		}
		if !result.Degraded {
			t.Error("Result not marked degraded")
		}
		found := false
		for _, w := range result.Warnings {
			if w == WarnDetectionUnavailable {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s warning, got %v", WarnDetectionUnavailable, result.Warnings)
		}
		if !strings.Contains(result.Texts[0], "EMAIL_1") {
			t.Errorf("Pattern detection lost during degradation: %q", result.Texts[0])
		}
		if !strings.Contains(result.Texts[0], "John Smith") {
			t.Errorf("Degraded run should leave model entities untouched: %q", result.Texts[0])
		}
	})

	t.Run("WarningsDeduplicatedAcrossBatch", func(t *testing.T) {
		engine := newTestEngine(t, model.NewFailingStub(errors.New("connection refused")))
		result, err := engine.Pseudonymize(ctx, []string{
			"First text here.",
			"Second text here.",
			"Third text here.",
		}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if len(result.Warnings) != 1 {
			t.Errorf("Expected one deduplicated warning, got %v", result.Warnings)
		}
	})
}

// TestValidation tests input rejection
func TestValidation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	t.Run("NoTexts", func(t *testing.T) {
		_, err := engine.Pseudonymize(ctx, nil, Options{})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
	})

	t.Run("AllEmpty", func(t *testing.T) {
		_, err := engine.Pseudonymize(ctx, []string{"", "  "}, Options{})
		if err == nil {
			t.Fatal("All-empty batch accepted")
		}
	})

	t.Run("Oversized", func(t *testing.T) {
		_, err := engine.Pseudonymize(ctx, []string{strings.Repeat("a", 1001)}, Options{})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		if verr.MaxLength != 1000 || verr.TextLength != 1001 {
			t.Errorf("Size fields wrong: %+v", verr)
		}
		if strings.Contains(verr.Error(), "aaa") {
			t.Error("Error message leaked input text")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := engine.Pseudonymize(cancelled, []string{"John Smith was here."}, Options{Language: "en"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	})
}

// TestConfidenceFiltering tests the per-request threshold override
func TestConfidenceFiltering(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, model.NewStub(
		model.StubEntry{Text: "John Smith", Label: "PER", Confidence: 0.6},
	))

	t.Run("DefaultThresholdKeepsSpan", func(t *testing.T) {
		result, err := engine.Pseudonymize(ctx, []string{"John Smith called."}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if !strings.Contains(result.Texts[0], "PERSON_1") {
			t.Errorf("Span above default threshold dropped: %q", result.Texts[0])
		}
	})

	t.Run("RaisedThresholdDropsSpan", func(t *testing.T) {
		result, err := engine.Pseudonymize(ctx, []string{"John Smith called."}, Options{
			Language:           "en",
			PreserveFormatting: true,
			MinConfidence:      0.7,
		})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "John Smith called." {
			t.Errorf("Span below raised threshold kept: %q", result.Texts[0])
		}
	})

	t.Run("LoweredThresholdKeepsSpan", func(t *testing.T) {
		lowEngine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER", Confidence: 0.4},
		))

		result, err := lowEngine.Pseudonymize(ctx, []string{"John Smith called."}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "John Smith called." {
			t.Errorf("Span below default threshold kept: %q", result.Texts[0])
		}

		result, err = lowEngine.Pseudonymize(ctx, []string{"John Smith called."}, Options{
			Language:           "en",
			PreserveFormatting: true,
			MinConfidence:      0.3,
		})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if !strings.Contains(result.Texts[0], "PERSON_1") {
			t.Errorf("Lowered threshold did not recover span: %q", result.Texts[0])
		}
	})
}

// TestFormatting tests whitespace handling
func TestFormatting(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	t.Run("PreservedByDefaultOption", func(t *testing.T) {
		text := "padded   text\twith   runs"
		result, err := engine.Pseudonymize(ctx, []string{text}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != text {
			t.Errorf("Formatting changed despite preserve option: %q", result.Texts[0])
		}
	})

	t.Run("CollapsedWhenDisabled", func(t *testing.T) {
		result, err := engine.Pseudonymize(ctx, []string{"padded   text\twith   runs"}, Options{Language: "en"})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if strings.Contains(result.Texts[0], "  ") {
			t.Errorf("Whitespace runs survived: %q", result.Texts[0])
		}
	})
}

// TestLanguageResolution tests language selection and auto-detection
func TestLanguageResolution(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	t.Run("ExplicitLanguageWins", func(t *testing.T) {
		result, err := engine.Pseudonymize(ctx, []string{"The report about the meeting."}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.DetectedLanguage != "de" {
			t.Errorf("Explicit language overridden: %s", result.DetectedLanguage)
		}
		if result.LanguageConfidence != 1.0 {
			t.Errorf("Explicit language should carry confidence 1.0, got %f", result.LanguageConfidence)
		}
	})

	t.Run("AutoDetectsGerman", func(t *testing.T) {
		result, err := engine.Pseudonymize(ctx, []string{
			"Der Bericht wurde mit der Abteilung besprochen und ist nicht fertig.",
		}, Options{Language: "auto", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.DetectedLanguage != "de" {
			t.Errorf("German text detected as %s", result.DetectedLanguage)
		}
	})

	t.Run("DetectLanguageEndpointBehavior", func(t *testing.T) {
		lang, confidence := engine.DetectLanguage("the cat sat on the mat and it was fine")
		if lang != "en" || confidence <= 0.5 {
			t.Errorf("Expected confident English, got %s %f", lang, confidence)
		}
	})
}

// TestSessionOperations tests the engine's session service surface
func TestSessionOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("MappingsReflectRun", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
		))
		result, err := engine.Pseudonymize(ctx, []string{"John Smith wrote to max@example.com."}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		mappings, stats := engine.Mappings(result.SessionID)
		if len(mappings) != 2 {
			t.Fatalf("Expected 2 mappings, got %v", mappings)
		}
		if mappings["PERSON:john smith"] != "PERSON_1" {
			t.Errorf("Canonical key wrong: %v", mappings)
		}
		if stats.TotalEntities != 2 || stats.ByType["EMAIL"] != 1 {
			t.Errorf("Statistics wrong: %+v", stats)
		}
	})

	t.Run("ImportFlatPayload", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		id, err := engine.ImportMappings([]byte(`{"PERSON:max müller":"PERSON_3"}`), "flat")
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		mappings, _ := engine.Mappings(id)
		if mappings["PERSON:max müller"] != "PERSON_3" {
			t.Errorf("Flat import lost the mapping: %v", mappings)
		}
	})

	t.Run("ImportExportPayload", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		payload := []byte(`{"session_id":"src","mappings":{"LOCATION:berlin":"LOCATION_2"},"statistics":{"total_entities":1,"by_type":{"LOCATION":1}}}`)
		id, err := engine.ImportMappings(payload, "full")
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if id != "full" {
			t.Errorf("Target session id ignored: %s", id)
		}
		mappings, _ := engine.Mappings("full")
		if mappings["LOCATION:berlin"] != "LOCATION_2" {
			t.Errorf("Export-shaped import lost the mapping: %v", mappings)
		}
	})

	t.Run("ImportRejectsGarbage", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		for _, payload := range []string{`"just a string"`, `[]`, `null`, `not json`} {
			if _, err := engine.ImportMappings([]byte(payload), ""); err == nil {
				t.Errorf("Payload %q accepted", payload)
			}
		}
	})

	t.Run("ImportEmptyObjectIsNoOp", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		id, err := engine.ImportMappings([]byte(`{}`), "empty-ok")
		if err != nil {
			t.Fatalf("Empty object rejected: %v", err)
		}
		if id != "empty-ok" {
			t.Errorf("Expected session empty-ok, got %q", id)
		}
		mappings, _ := engine.Mappings(id)
		if len(mappings) != 0 {
			t.Errorf("No-op import produced mappings: %v", mappings)
		}
	})

	t.Run("ClearThenReuse", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "John Smith", Label: "PER"},
		))
		result, _ := engine.Pseudonymize(ctx, []string{"John Smith."}, Options{Language: "en", PreserveFormatting: true})
		engine.ClearSession(result.SessionID)
		mappings, _ := engine.Mappings(result.SessionID)
		if len(mappings) != 0 {
			t.Errorf("Cleared session still has mappings: %v", mappings)
		}
	})
}

// TestCanonicalKeys tests surface-form normalization
func TestCanonicalKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("CaseAndWhitespaceFolded", func(t *testing.T) {
		engine := newTestEngine(t, model.NewStub(
			model.StubEntry{Text: "MAX MÜLLER", Label: "PER"},
			model.StubEntry{Text: "Max Müller", Label: "PER"},
		))
		result, err := engine.Pseudonymize(ctx, []string{
			"MAX MÜLLER und Max Müller sind dieselbe Person.",
		}, Options{Language: "de", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		want := "PERSON_1 und PERSON_1 sind dieselbe Person."
		if result.Texts[0] != want {
			t.Errorf("Case variants got different placeholders: %q", result.Texts[0])
		}
	})

	t.Run("EmailCaseFolded", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		result, err := engine.Pseudonymize(ctx, []string{
			"Max@Example.com and max@example.com match.",
		}, Options{Language: "en", PreserveFormatting: true})
		if err != nil {
			t.Fatalf("Pseudonymize failed: %v", err)
		}
		if result.Texts[0] != "EMAIL_1 and EMAIL_1 match." {
			t.Errorf("Email case variants diverged: %q", result.Texts[0])
		}
	})
}
