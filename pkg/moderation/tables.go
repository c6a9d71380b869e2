package moderation

import (
	"fmt"
	"strings"
)

// KeywordTable is an ordered, immutable list of lowercase phrases.
// Detectors report the first phrase, in table order, found in the text.
type KeywordTable struct {
	phrases []string
}

// NewKeywordTable normalises phrases to trimmed lowercase and drops duplicates,
// keeping the first occurrence.
func NewKeywordTable(phrases ...string) (KeywordTable, error) {
	if len(phrases) == 0 {
		return KeywordTable{}, ErrEmptyTable
	}
	out := make([]string, 0, len(phrases))
	seen := make(map[string]struct{}, len(phrases))
	for i, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			return KeywordTable{}, fmt.Errorf("%w: entry %d is blank", ErrInvalidPhrase, i)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return KeywordTable{phrases: out}, nil
}

// MustKeywordTable is like NewKeywordTable but panics on error. Intended for
// package-level tables.
func MustKeywordTable(phrases ...string) KeywordTable {
	t, err := NewKeywordTable(phrases...)
	if err != nil {
		panic(err)
	}
	return t
}

// Phrases returns a copy of the table contents.
func (t KeywordTable) Phrases() []string {
	return append([]string(nil), t.phrases...)
}

// Len returns the number of phrases.
func (t KeywordTable) Len() int { return len(t.phrases) }

// Thresholds tunes the spam heuristics. Zero fields take the defaults.
type Thresholds struct {
	// MinLinks is the link count at which multiple links are reported.
	MinLinks int `json:"min_links" yaml:"min_links"`
	// MinRepeats is the occurrence count of a single token that counts as repetition.
	MinRepeats int `json:"min_repeats" yaml:"min_repeats"`
	// PunctuationMinLength is the length the text must exceed before the
	// punctuation marker is considered aggressive.
	PunctuationMinLength int `json:"punctuation_min_length" yaml:"punctuation_min_length"`
	// PunctuationMarker is the literal run that signals aggressive punctuation.
	PunctuationMarker string `json:"punctuation_marker" yaml:"punctuation_marker"`
}

const (
	defaultMinLinks             = 2
	defaultMinRepeats           = 5
	defaultPunctuationMinLength = 150
	defaultPunctuationMarker    = "!!!"
)

// DefaultThresholds returns the stock spam thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLinks:             defaultMinLinks,
		MinRepeats:           defaultMinRepeats,
		PunctuationMinLength: defaultPunctuationMinLength,
		PunctuationMarker:    defaultPunctuationMarker,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinLinks == 0 {
		t.MinLinks = defaultMinLinks
	}
	if t.MinRepeats == 0 {
		t.MinRepeats = defaultMinRepeats
	}
	if t.PunctuationMinLength == 0 {
		t.PunctuationMinLength = defaultPunctuationMinLength
	}
	if t.PunctuationMarker == "" {
		t.PunctuationMarker = defaultPunctuationMarker
	}
	return t
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.MinLinks < 0:
		return fmt.Errorf("%w: min_links %d", ErrInvalidThreshold, t.MinLinks)
	case t.MinRepeats < 0:
		return fmt.Errorf("%w: min_repeats %d", ErrInvalidThreshold, t.MinRepeats)
	case t.PunctuationMinLength < 0:
		return fmt.Errorf("%w: punctuation_min_length %d", ErrInvalidThreshold, t.PunctuationMinLength)
	}
	return nil
}

// Tables bundles the keyword tables for every detector.
type Tables struct {
	Abuse      KeywordTable
	HateSpeech KeywordTable
	Spam       KeywordTable
	Misleading KeywordTable
	Thresholds Thresholds
}

// Table returns the keyword table used by the detector for c.
func (t Tables) Table(c Category) (KeywordTable, bool) {
	switch c {
	case CategoryAbuse:
		return t.Abuse, true
	case CategoryHateSpeech:
		return t.HateSpeech, true
	case CategorySpam:
		return t.Spam, true
	case CategoryMisleading:
		return t.Misleading, true
	default:
		return KeywordTable{}, false
	}
}

// IsZero reports whether every keyword table is empty.
func (t Tables) IsZero() bool {
	return t.Abuse.Len() == 0 && t.HateSpeech.Len() == 0 && t.Spam.Len() == 0 && t.Misleading.Len() == 0
}

// TablesFromMap builds tables from a category keyed phrase map. Categories
// missing from m keep the default table.
func TablesFromMap(m map[Category][]string, th Thresholds) (Tables, error) {
	tables := DefaultTables()
	for c, phrases := range m {
		if !c.Valid() {
			return Tables{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		kt, err := NewKeywordTable(phrases...)
		if err != nil {
			return Tables{}, fmt.Errorf("%s table: %w", c, err)
		}
		switch c {
		case CategoryAbuse:
			tables.Abuse = kt
		case CategoryHateSpeech:
			tables.HateSpeech = kt
		case CategorySpam:
			tables.Spam = kt
		case CategoryMisleading:
			tables.Misleading = kt
		}
	}
	if err := th.Validate(); err != nil {
		return Tables{}, err
	}
	tables.Thresholds = th.withDefaults()
	return tables, nil
}

// Map returns the phrase lists keyed by category.
func (t Tables) Map() map[Category][]string {
	return map[Category][]string{
		CategoryAbuse:      t.Abuse.Phrases(),
		CategoryHateSpeech: t.HateSpeech.Phrases(),
		CategorySpam:       t.Spam.Phrases(),
		CategoryMisleading: t.Misleading.Phrases(),
	}
}

var (
	defaultAbuse = MustKeywordTable(
		"idiot",
		"stupid",
		"moron",
		"trash",
		"loser",
		"shut up",
		"worthless",
		"kys",
	)
	defaultHateSpeech = MustKeywordTable(
		"hate speech",
		"exterminate",
		"inferior",
		"purge",
		"genocide",
		"nazis",
		"racist",
		"terrorist group",
	)
	defaultSpam = MustKeywordTable(
		"free money",
		"work from home",
		"buy now",
		"limited time offer",
		"click here",
		"visit my profile",
		"100% real",
		"dm for details",
	)
	defaultMisleading = MustKeywordTable(
		"miracle cure",
		"guaranteed results",
		"secret government",
		"hidden truth",
		"vaccines cause",
		"flat earth",
		"fake news confirmed",
	)
)

// DefaultTables returns the built-in vocabulary and thresholds.
func DefaultTables() Tables {
	return Tables{
		Abuse:      defaultAbuse,
		HateSpeech: defaultHateSpeech,
		Spam:       defaultSpam,
		Misleading: defaultMisleading,
		Thresholds: DefaultThresholds(),
	}
}
