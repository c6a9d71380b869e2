package moderation

import (
	"fmt"
	"strings"
)

// detector appends the reasons it finds to dst.
type detector interface {
	detect(text, lowered string, dst []Reason) []Reason
}

const (
	detailEmpty           = "content empty"
	detailMultipleLinks   = "contains multiple links"
	detailRepetition      = "excessive repetition"
	detailAggressivePunct = "aggressive punctuation"

	formatAbuse      = `contains abusive term "%s"`
	formatHateSpeech = `references hate speech term "%s"`
	formatSpamPhrase = `contains spam phrase "%s"`
	formatMisleading = `contains misleading phrase "%s"`
)

// keywordDetector reports the first table phrase found in the text.
type keywordDetector struct {
	category Category
	matcher  phraseMatcher
	format   string
}

func (d keywordDetector) detect(_, lowered string, dst []Reason) []Reason {
	phrase, ok := d.matcher.first(lowered)
	if !ok {
		return dst
	}
	return append(dst, Reason{Category: d.category, Detail: fmt.Sprintf(d.format, phrase)})
}

// spamDetector runs every spam signal. Signals fire independently.
type spamDetector struct {
	phrases    phraseMatcher
	thresholds Thresholds
}

func (d spamDetector) detect(text, lowered string, dst []Reason) []Reason {
	th := d.thresholds
	if countLinks(text) >= th.MinLinks {
		dst = append(dst, Reason{Category: CategorySpam, Detail: detailMultipleLinks})
	}
	if hasRepeatedToken(lowered, th.MinRepeats) {
		dst = append(dst, Reason{Category: CategorySpam, Detail: detailRepetition})
	}
	if Length(text) > th.PunctuationMinLength && strings.Contains(text, th.PunctuationMarker) {
		dst = append(dst, Reason{Category: CategorySpam, Detail: detailAggressivePunct})
	}
	if phrase, ok := d.phrases.first(lowered); ok {
		dst = append(dst, Reason{Category: CategorySpam, Detail: fmt.Sprintf(formatSpamPhrase, phrase)})
	}
	return dst
}
