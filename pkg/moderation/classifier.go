package moderation

import (
	"fmt"
	"strings"
	"sync"
)

// Classifier evaluates text against a fixed set of tables.
// The zero value is not usable; construct with NewClassifier or Default.
type Classifier struct {
	tables    Tables
	detectors []detector
}

// NewClassifier builds a classifier over tables. Zero-valued keyword tables
// disable the corresponding keyword check; zero thresholds take defaults.
func NewClassifier(tables Tables) (*Classifier, error) {
	if err := tables.Thresholds.Validate(); err != nil {
		return nil, err
	}
	tables.Thresholds = tables.Thresholds.withDefaults()

	return &Classifier{
		tables: tables,
		detectors: []detector{
			keywordDetector{category: CategoryAbuse, matcher: newPhraseMatcher(tables.Abuse), format: formatAbuse},
			keywordDetector{category: CategoryHateSpeech, matcher: newPhraseMatcher(tables.HateSpeech), format: formatHateSpeech},
			spamDetector{phrases: newPhraseMatcher(tables.Spam), thresholds: tables.Thresholds},
			keywordDetector{category: CategoryMisleading, matcher: newPhraseMatcher(tables.Misleading), format: formatMisleading},
		},
	}, nil
}

var (
	defaultClassifier     *Classifier
	defaultClassifierOnce sync.Once
)

// Default returns the process-wide classifier over DefaultTables.
func Default() *Classifier {
	defaultClassifierOnce.Do(func() {
		c, err := NewClassifier(DefaultTables())
		if err != nil {
			panic(err)
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// Evaluate classifies content with the default classifier.
func Evaluate(content string) Verdict {
	return Default().Evaluate(content)
}

// Tables returns the tables the classifier was built with.
func (c *Classifier) Tables() Tables {
	return c.tables
}

// Evaluate classifies content. It never fails: problems are reported as reasons.
func (c *Classifier) Evaluate(content string) Verdict {
	trimmed := Trim(content)
	if trimmed == "" {
		return Verdict{
			IsAllowed:    false,
			Reasons:      []Reason{{Category: CategoryAbuse, Detail: detailEmpty}},
			EmptyContent: true,
		}
	}

	lowered := strings.ToLower(trimmed)
	reasons := make([]Reason, 0, 2)
	for _, d := range c.detectors {
		reasons = d.detect(trimmed, lowered, reasons)
	}

	return Verdict{IsAllowed: len(reasons) == 0, Reasons: reasons}
}

// EvaluateValue classifies an arbitrary value. Absent or non-text values are
// treated as empty content.
func (c *Classifier) EvaluateValue(v any) Verdict {
	return c.Evaluate(asText(v))
}

func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case []byte:
		return string(t)
	case fmt.Stringer:
		if s, ok := safeString(t); ok {
			return s
		}
		return ""
	default:
		return ""
	}
}

// safeString guards against Stringers that panic, such as typed nil pointers.
func safeString(s fmt.Stringer) (out string, ok bool) {
	defer func() {
		if recover() != nil {
			out, ok = "", false
		}
	}()
	return s.String(), true
}
