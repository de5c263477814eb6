// Package model wraps the external statistical span producer behind a
// uniform interface. The adapter is the only component that talks to the
// model service; everything downstream sees normalized entity spans.
package model

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/logger"
)

// RawSpan is a span as reported by the external model service, before label
// normalization and confidence filtering.
type RawSpan struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Confidence float64 `json:"score"`
}

// Service is the boundary to the external statistical model. Implementations
// must be safe for concurrent use.
type Service interface {
	Detect(ctx context.Context, text, language string) ([]RawSpan, error)
}

// labelTable is the closed mapping from external model labels to internal
// entity types. Anything not listed here is dropped, never passed through.
var labelTable = map[string]entity.Type{
	"PER":          entity.Person,
	"PERSON":       entity.Person,
	"LOC":          entity.Location,
	"LOCATION":     entity.Location,
	"GPE":          entity.Location,
	"ORG":          entity.Organization,
	"ORGANIZATION": entity.Organization,
}

// Adapter normalizes model output into entity spans.
type Adapter struct {
	service       Service
	minConfidence float64
	logger        *logger.Logger
}

// NewAdapter wraps a model service. The minimum confidence threshold comes
// from configuration and defaults to 0.5.
func NewAdapter(service Service, cfg config.ModelConfig, log *logger.Logger) *Adapter {
	min := cfg.MinConfidence
	if min == 0 {
		min = 0.5
	}
	return &Adapter{
		service:       service,
		minConfidence: min,
		logger:        log,
	}
}

// Detect calls the model service and normalizes its output: unmapped labels
// and spans below the confidence threshold are dropped, offsets are
// validated against the source text. A positive minConfidence replaces the
// configured threshold for this call, so per-request values can lower it as
// well as raise it. This is the engine's only suspension point; callers
// bound it with a context deadline.
func (a *Adapter) Detect(ctx context.Context, text, language string, minConfidence float64) ([]entity.Span, error) {
	threshold := a.minConfidence
	if minConfidence > 0 {
		threshold = minConfidence
	}

	raw, err := a.service.Detect(ctx, text, language)
	if err != nil {
		return nil, fmt.Errorf("model detection failed: %w", err)
	}

	spans := make([]entity.Span, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		typ, ok := labelTable[r.Label]
		if !ok {
			dropped++
			continue
		}
		if r.Confidence < threshold {
			dropped++
			continue
		}
		if r.Start < 0 || r.End > len(text) || r.Start >= r.End {
			dropped++
			continue
		}
		surface := text[r.Start:r.End]
		if r.Text != "" && r.Text != surface {
			// Offsets win over the reported surface string.
			dropped++
			continue
		}
		spans = append(spans, entity.Span{
			Start:      r.Start,
			End:        r.End,
			Type:       typ,
			Text:       surface,
			Confidence: r.Confidence,
			Source:     entity.SourceModel,
		})
	}

	a.logger.Debug("Model detection normalized",
		zap.String("language", language),
		zap.Int("accepted", len(spans)),
		zap.Int("dropped", dropped),
	)
	return spans, nil
}

// MinConfidence returns the configured default confidence threshold.
func (a *Adapter) MinConfidence() float64 {
	return a.minConfidence
}
