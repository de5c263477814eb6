package model

import (
	"context"
	"errors"
	"testing"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/logger"
)

// TestAdapter tests label normalization and span filtering
func TestAdapter(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()

	t.Run("LabelNormalization", func(t *testing.T) {
		text := "Max Müller works at Siemens in Berlin"
		adapter := NewAdapter(NewStub(
			StubEntry{Text: "Max Müller", Label: "PER"},
			StubEntry{Text: "Siemens", Label: "ORGANIZATION"},
			StubEntry{Text: "Berlin", Label: "GPE"},
		), config.ModelConfig{}, log)

		spans, err := adapter.Detect(ctx, text, "de", 0)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 3 {
			t.Fatalf("Expected 3 spans, got %d", len(spans))
		}
		types := map[string]entity.Type{}
		for _, s := range spans {
			types[s.Text] = s.Type
			if s.Source != entity.SourceModel {
				t.Errorf("Span %q missing model source tag", s.Text)
			}
			if err := s.Validate(text); err != nil {
				t.Errorf("Span %q offsets invalid: %v", s.Text, err)
			}
		}
		if types["Max Müller"] != entity.Person {
			t.Errorf("PER not normalized to PERSON: %v", types)
		}
		if types["Siemens"] != entity.Organization || types["Berlin"] != entity.Location {
			t.Errorf("Labels not normalized: %v", types)
		}
	})

	t.Run("UnknownLabelDropped", func(t *testing.T) {
		adapter := NewAdapter(NewStub(
			StubEntry{Text: "500mg", Label: "DOSAGE"},
			StubEntry{Text: "Berlin", Label: "LOC"},
		), config.ModelConfig{}, log)

		spans, err := adapter.Detect(ctx, "Take 500mg in Berlin", "en", 0)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 1 || spans[0].Type != entity.Location {
			t.Fatalf("Unknown label leaked through: %v", spans)
		}
	})

	t.Run("ConfidenceThreshold", func(t *testing.T) {
		adapter := NewAdapter(NewStub(
			StubEntry{Text: "John Smith", Label: "PER", Confidence: 0.4},
			StubEntry{Text: "Boston", Label: "LOC", Confidence: 0.9},
		), config.ModelConfig{MinConfidence: 0.5}, log)

		spans, err := adapter.Detect(ctx, "John Smith flew to Boston", "en", 0)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 1 || spans[0].Text != "Boston" {
			t.Fatalf("Threshold not applied: %v", spans)
		}
	})

	t.Run("RequestThresholdReplacesConfigured", func(t *testing.T) {
		adapter := NewAdapter(NewStub(
			StubEntry{Text: "John Smith", Label: "PER", Confidence: 0.4},
			StubEntry{Text: "Boston", Label: "LOC", Confidence: 0.9},
		), config.ModelConfig{MinConfidence: 0.5}, log)

		// A lower per-call threshold keeps spans the configured floor
		// would have dropped.
		spans, err := adapter.Detect(ctx, "John Smith flew to Boston", "en", 0.3)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 2 {
			t.Fatalf("Lowered threshold did not keep 0.4-confidence span: %v", spans)
		}

		// A higher one drops spans the configured floor would have kept.
		spans, err = adapter.Detect(ctx, "John Smith flew to Boston", "en", 0.95)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 0 {
			t.Fatalf("Raised threshold not applied: %v", spans)
		}
	})

	t.Run("ZeroConfidenceConfigDefaultsToHalf", func(t *testing.T) {
		adapter := NewAdapter(NewStub(), config.ModelConfig{}, log)
		if adapter.MinConfidence() != 0.5 {
			t.Errorf("Expected default threshold 0.5, got %f", adapter.MinConfidence())
		}
	})

	t.Run("InvalidOffsetsDropped", func(t *testing.T) {
		adapter := NewAdapter(rawService{spans: []RawSpan{
			{Start: -1, End: 3, Label: "PER", Confidence: 0.9},
			{Start: 2, End: 200, Label: "PER", Confidence: 0.9},
			{Start: 5, End: 5, Label: "PER", Confidence: 0.9},
			{Start: 0, End: 4, Label: "PER", Text: "mismatch", Confidence: 0.9},
		}}, config.ModelConfig{}, log)

		spans, err := adapter.Detect(ctx, "short text", "en", 0)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 0 {
			t.Errorf("Invalid spans leaked through: %v", spans)
		}
	})

	t.Run("ServiceErrorPropagates", func(t *testing.T) {
		adapter := NewAdapter(NewFailingStub(errors.New("model down")), config.ModelConfig{}, log)
		if _, err := adapter.Detect(ctx, "any text", "en", 0); err == nil {
			t.Fatal("Service error swallowed")
		}
	})
}

// rawService returns canned raw spans without the stub's matching logic.
type rawService struct {
	spans []RawSpan
}

func (r rawService) Detect(context.Context, string, string) ([]RawSpan, error) {
	return r.spans, nil
}

// TestStub tests the stub service's matching behavior
func TestStub(t *testing.T) {
	ctx := context.Background()

	t.Run("LongestEntryWinsAtSharedOffset", func(t *testing.T) {
		stub := NewStub(
			StubEntry{Text: "Max", Label: "PER"},
			StubEntry{Text: "Max Müller", Label: "PER"},
		)
		spans, err := stub.Detect(ctx, "Max Müller kam. Max ging.", "de")
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(spans) != 2 {
			t.Fatalf("Expected 2 spans, got %v", spans)
		}
		var texts []string
		for _, s := range spans {
			texts = append(texts, s.Text)
		}
		if texts[0] != "Max Müller" {
			t.Errorf("Longer entry did not claim the shared offset: %v", texts)
		}
	})

	t.Run("DefaultConfidence", func(t *testing.T) {
		stub := NewStub(StubEntry{Text: "Berlin", Label: "LOC"})
		spans, _ := stub.Detect(ctx, "in Berlin", "de")
		if len(spans) != 1 || spans[0].Confidence != 0.95 {
			t.Errorf("Expected default confidence 0.95, got %v", spans)
		}
	})
}
