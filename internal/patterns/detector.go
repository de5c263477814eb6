// Package patterns implements the deterministic entity detectors for
// structured formats: emails, phone numbers, dates, IBANs, IDs, and license
// numbers. Every detector is a pure function from text to spans, emits no
// overlapping spans of its own type, and produces offsets satisfying
// text[span.Start:span.End] == span.Text.
package patterns

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/config"
	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/logger"
)

// detectorNames lists all pattern detectors in the order they run.
var detectorNames = []string{"email", "iban", "phone", "date", "license", "id"}

// Detector runs the enabled pattern detectors against input text.
type Detector struct {
	enabled map[string]bool
	id      map[string][]*regexp.Regexp
	license map[string][]*regexp.Regexp
	logger  *logger.Logger
}

// New creates a pattern detector set from configuration. An empty or
// ["all"] detector list enables everything.
func New(cfg config.PatternsConfig, log *logger.Logger) (*Detector, error) {
	d := &Detector{
		enabled: make(map[string]bool),
		id:      defaultIDRules(),
		license: defaultLicenseRules(),
		logger:  log,
	}

	if err := d.configure(cfg.Detectors); err != nil {
		return nil, err
	}
	if err := d.addRules(d.id, cfg.ID); err != nil {
		return nil, fmt.Errorf("invalid id pattern: %w", err)
	}
	if err := d.addRules(d.license, cfg.License); err != nil {
		return nil, fmt.Errorf("invalid license pattern: %w", err)
	}

	log.Info("Pattern detectors initialized",
		zap.Int("total", len(detectorNames)),
		zap.Strings("enabled", d.EnabledDetectors()),
	)
	return d, nil
}

func (d *Detector) configure(names []string) error {
	if len(names) == 0 {
		names = []string{"all"}
	}
	for _, name := range detectorNames {
		d.enabled[name] = false
	}
	for _, name := range names {
		if name == "all" {
			for _, n := range detectorNames {
				d.enabled[n] = true
			}
			continue
		}
		if _, ok := d.enabled[name]; !ok {
			return fmt.Errorf("unknown detector: %s", name)
		}
		d.enabled[name] = true
	}
	return nil
}

func (d *Detector) addRules(rules map[string][]*regexp.Regexp, custom map[string][]string) error {
	for lang, exprs := range custom {
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return fmt.Errorf("%s: %w", expr, err)
			}
			rules[lang] = append(rules[lang], re)
		}
	}
	return nil
}

// Detect runs all enabled detectors against text. The language code selects
// locale-specific rules for phones, dates, IDs, and licenses; an unsupported
// code falls back to the English rule set.
func (d *Detector) Detect(text, language string) []entity.Span {
	if text == "" {
		return nil
	}

	var spans []entity.Span
	if d.enabled["email"] {
		spans = append(spans, detectEmails(text)...)
	}
	if d.enabled["iban"] {
		spans = append(spans, detectIBANs(text)...)
	}
	if d.enabled["phone"] {
		spans = append(spans, detectPhones(text, language)...)
	}
	if d.enabled["date"] {
		spans = append(spans, detectDates(text, language)...)
	}
	if d.enabled["license"] {
		spans = append(spans, d.detectLicenses(text, language)...)
	}
	if d.enabled["id"] {
		spans = append(spans, d.detectIDs(text, language)...)
	}

	d.logger.Debug("Pattern detection complete",
		zap.String("language", language),
		zap.Int("spans", len(spans)),
	)
	return spans
}

// EnabledDetectors returns the names of all enabled detectors.
func (d *Detector) EnabledDetectors() []string {
	var names []string
	for _, name := range detectorNames {
		if d.enabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// dropSelfOverlaps enforces the per-detector contract that no two spans of
// one detector overlap. Longer spans win, earlier starts break ties.
func dropSelfOverlaps(spans []entity.Span) []entity.Span {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].Len() > spans[j].Len()
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		if s.Start < out[len(out)-1].End {
			continue
		}
		out = append(out, s)
	}
	return out
}
