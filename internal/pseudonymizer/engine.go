// Package pseudonymizer drives the per-text pipeline: detect, merge,
// normalize, map, substitute. Batches share one mapping session so repeated
// mentions across documents receive identical placeholders.
package pseudonymizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/cache"
	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/langdetect"
	"github.com/veilware/textveil/internal/logger"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/merge"
	"github.com/veilware/textveil/internal/model"
	"github.com/veilware/textveil/internal/patterns"
)

// Options control one pseudonymization request.
type Options struct {
	// Language is a code like "de" or "en", or "auto"/"" for detection.
	Language string
	// PreserveFormatting keeps everything outside the replaced spans
	// byte-for-byte intact. When false, whitespace runs left behind by the
	// substitution are collapsed.
	PreserveFormatting bool
	// SessionID selects the mapping session; empty means a fresh session.
	SessionID string
	// MinConfidence overrides the configured model confidence floor when
	// greater than zero.
	MinConfidence float64
}

// Result is the outcome of a pseudonymization request.
type Result struct {
	Texts              []string       `json:"texts"`
	DetectedLanguage   string         `json:"detected_language"`
	LanguageConfidence float64        `json:"language_confidence"`
	EntityCount        int            `json:"entity_count"`
	EntityCounts       map[string]int `json:"entity_counts"`
	SessionID          string         `json:"session_id"`
	Degraded           bool           `json:"degraded"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// Engine is the pseudonymization orchestrator.
type Engine struct {
	patterns   *patterns.Detector
	adapter    *model.Adapter // nil means pattern-only operation
	classifier langdetect.Classifier
	store      *mapping.Store
	cache      *cache.DetectionCache // nil means no caching
	cfg        config.EngineConfig
	logger     *logger.Logger
}

// New assembles an engine. adapter and detectionCache may be nil; the
// engine then runs pattern-only and uncached respectively.
func New(
	cfg config.EngineConfig,
	det *patterns.Detector,
	adapter *model.Adapter,
	classifier langdetect.Classifier,
	store *mapping.Store,
	detectionCache *cache.DetectionCache,
	log *logger.Logger,
) *Engine {
	return &Engine{
		patterns:   det,
		adapter:    adapter,
		classifier: classifier,
		store:      store,
		cache:      detectionCache,
		cfg:        cfg,
		logger:     log,
	}
}

// Pseudonymize processes one or more texts through the pipeline, sharing a
// single mapping session across the batch. Output order matches input order
// regardless of internal parallelism. Model failures degrade to pattern-only
// results; only malformed input or cancellation fail the request.
func (e *Engine) Pseudonymize(ctx context.Context, texts []string, opts Options) (*Result, error) {
	if err := e.validate(texts); err != nil {
		return nil, err
	}

	language, langConfidence := e.resolveLanguage(texts, opts.Language)

	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = e.cfg.MinConfidence
	}

	session := e.store.Session(opts.SessionID)

	outputs := make([]string, len(texts))
	perText := make([]textOutcome, len(texts))

	workers := e.cfg.BatchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(texts) {
		workers = len(texts)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out, outcome := e.processText(ctx, texts[i], language, minConfidence, session, opts.PreserveFormatting)
				outputs[i] = out
				perText[i] = outcome
			}
		}()
	}
	for i := range texts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := &Result{
		Texts:              outputs,
		DetectedLanguage:   language,
		LanguageConfidence: langConfidence,
		EntityCounts:       make(map[string]int),
		SessionID:          session.ID(),
	}
	warnings := make(map[string]bool)
	for _, outcome := range perText {
		if outcome.err != nil {
			return nil, outcome.err
		}
		for typ, n := range outcome.counts {
			result.EntityCounts[string(typ)] += n
			result.EntityCount += n
		}
		for _, w := range outcome.warnings {
			warnings[w] = true
		}
	}
	for w := range warnings {
		result.Warnings = append(result.Warnings, w)
	}
	sort.Strings(result.Warnings)
	result.Degraded = len(result.Warnings) > 0

	e.logger.Info("Pseudonymization complete",
		zap.String("session_id", result.SessionID),
		zap.String("language", language),
		zap.Int("texts", len(texts)),
		zap.Int("entities", result.EntityCount),
		zap.Bool("degraded", result.Degraded),
	)
	return result, nil
}

type textOutcome struct {
	counts   map[entity.Type]int
	warnings []string
	err      error
}

// processText runs the single-text pipeline. Cancellation before the
// mapping step leaves the session untouched.
func (e *Engine) processText(
	ctx context.Context,
	text, language string,
	minConfidence float64,
	session *mapping.Session,
	preserveFormatting bool,
) (string, textOutcome) {
	if strings.TrimSpace(text) == "" {
		return text, textOutcome{}
	}

	spans, warnings := e.detect(ctx, text, language, minConfidence)

	// Detection results must never reach the store once the caller has
	// abandoned the request.
	if err := ctx.Err(); err != nil {
		return "", textOutcome{err: err}
	}

	// Assign placeholders left to right so that a full name is mapped
	// before any later short form that should resolve to it.
	placeholders := make([]string, len(spans))
	counts := make(map[entity.Type]int)
	for i, span := range spans {
		key := canonicalKey(span, language)
		placeholders[i] = session.GetOrCreate(key, span.Text)
		counts[span.Type]++
	}

	// Splice right to left so earlier offsets stay valid.
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		out = out[:spans[i].Start] + placeholders[i] + out[spans[i].End:]
	}
	if !preserveFormatting {
		out = collapseWhitespace(out)
	}

	return out, textOutcome{counts: counts, warnings: warnings}
}

// detect produces the final merged span list for one text. Pattern
// detectors run inline; the model call runs concurrently under its own
// deadline and degrades to nothing on failure.
func (e *Engine) detect(ctx context.Context, text, language string, minConfidence float64) ([]entity.Span, []string) {
	var cacheKey string
	if e.cache != nil {
		cacheKey = e.cache.DetectionKey(text, language, minConfidence)
		if spans, ok := e.cache.Get(ctx, cacheKey); ok {
			return spans, nil
		}
	}

	type modelResult struct {
		spans []entity.Span
		err   error
	}
	var modelCh chan modelResult
	if e.adapter != nil {
		modelCh = make(chan modelResult, 1)
		go func() {
			mctx := ctx
			if e.cfg.ModelTimeout > 0 {
				var cancel context.CancelFunc
				mctx, cancel = context.WithTimeout(ctx, e.cfg.ModelTimeout)
				defer cancel()
			}
			spans, err := e.adapter.Detect(mctx, text, language, minConfidence)
			modelCh <- modelResult{spans: spans, err: err}
		}()
	}

	candidates := e.patterns.Detect(text, language)

	var warnings []string
	if modelCh != nil {
		res := <-modelCh
		switch {
		case errors.Is(res.err, context.DeadlineExceeded):
			warnings = append(warnings, WarnTimeoutExceeded)
			e.logger.Warn("Model detection timed out, using pattern-only result",
				zap.Int("text_length", len(text)),
			)
		case res.err != nil:
			warnings = append(warnings, WarnDetectionUnavailable)
			e.logger.Warn("Model detection unavailable, using pattern-only result",
				zap.Error(res.err),
				zap.Int("text_length", len(text)),
			)
		default:
			// The adapter filters at the effective per-request threshold,
			// so everything it returns is a candidate.
			candidates = append(candidates, res.spans...)
		}
	}

	merged := merge.Merge(candidates)

	if e.cache != nil && len(warnings) == 0 {
		e.cache.Set(ctx, cacheKey, merged)
	}
	return merged, warnings
}

func (e *Engine) validate(texts []string) error {
	if len(texts) == 0 {
		return &ValidationError{Field: "text", Message: "no input texts"}
	}
	empty := true
	for i, t := range texts {
		if len(t) > e.cfg.MaxTextLength {
			return &ValidationError{
				Field:      fmt.Sprintf("texts[%d]", i),
				Message:    "text exceeds maximum length",
				TextLength: len(t),
				MaxLength:  e.cfg.MaxTextLength,
			}
		}
		if strings.TrimSpace(t) != "" {
			empty = false
		}
	}
	if empty {
		return &ValidationError{Field: "text", Message: "input is empty"}
	}
	return nil
}

func (e *Engine) resolveLanguage(texts []string, requested string) (string, float64) {
	if requested != "" && requested != "auto" {
		return requested, 1.0
	}
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return e.classifier.Detect(t)
		}
	}
	return langdetect.DefaultLanguage, 0
}

// DetectLanguage exposes the language classifier.
func (e *Engine) DetectLanguage(text string) (string, float64) {
	return e.classifier.Detect(text)
}

// Mappings returns a session's canonical-key to placeholder table plus
// statistics. Unknown sessions are empty, not errors.
func (e *Engine) Mappings(sessionID string) (map[string]string, mapping.Statistics) {
	payload := e.store.Export(sessionID)
	return payload.Mappings, payload.Statistics
}

// ExportMappings returns the full serialized payload for a session.
func (e *Engine) ExportMappings(sessionID string) mapping.ExportPayload {
	return e.store.Export(sessionID)
}

// ImportMappings merges a serialized payload into a session. It accepts
// either a full export payload or a flat canonical-key to placeholder
// object, and validates everything before mutating.
func (e *Engine) ImportMappings(payload []byte, sessionID string) (string, error) {
	var export mapping.ExportPayload
	if err := json.Unmarshal(payload, &export); err == nil && export.Mappings != nil {
		return e.store.Import(export.Mappings, sessionID)
	}

	// An empty JSON object is a valid, if pointless, mapping: it imports
	// nothing but still resolves to a session.
	var flat map[string]string
	if err := json.Unmarshal(payload, &flat); err != nil || flat == nil {
		return "", &ValidationError{Field: "payload", Message: "must be a mapping of string to string"}
	}
	return e.store.Import(flat, sessionID)
}

// ClearSession removes a session. Clearing an unknown id succeeds.
func (e *Engine) ClearSession(sessionID string) {
	e.store.Clear(sessionID)
}

// ListSessions lists active session ids.
func (e *Engine) ListSessions() []string {
	return e.store.ListSessions()
}

// SupportedLanguages reports the languages with dedicated rule sets.
func (e *Engine) SupportedLanguages() map[string]string {
	return langdetect.SupportedLanguages
}

// EnabledDetectors reports the active pattern detectors.
func (e *Engine) EnabledDetectors() []string {
	return e.patterns.EnabledDetectors()
}

var whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)

func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}
