package moderation

// Category identifies the detector that produced a reason.
type Category string

const (
	// CategoryAbuse covers insults and harassment. Empty content is also reported here.
	CategoryAbuse Category = "abuse"
	// CategoryHateSpeech covers hateful or violent group references.
	CategoryHateSpeech Category = "hate_speech"
	// CategorySpam covers link farming, repetition and promotional phrases.
	CategorySpam Category = "spam"
	// CategoryMisleading covers conspiracy and false-health claims.
	CategoryMisleading Category = "misleading"
)

// Categories lists every category in detector order.
var Categories = []Category{CategoryAbuse, CategoryHateSpeech, CategorySpam, CategoryMisleading}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAbuse, CategoryHateSpeech, CategorySpam, CategoryMisleading:
		return true
	default:
		return false
	}
}

// Label returns the human-facing label for the category.
func (c Category) Label() string {
	switch c {
	case CategoryAbuse:
		return "Abusive language"
	case CategoryHateSpeech:
		return "Hate speech"
	case CategorySpam:
		return "Spam"
	case CategoryMisleading:
		return "Misleading information"
	default:
		return "Unknown"
	}
}

// Reason is one detected issue.
type Reason struct {
	Category Category `json:"category" yaml:"category"`
	Detail   string   `json:"detail" yaml:"detail"`
}

// Verdict is the result of classifying one piece of text.
type Verdict struct {
	IsAllowed bool     `json:"isAllowed"`
	Reasons   []Reason `json:"reasons"`

	// EmptyContent is set when the input trimmed to nothing. The reason
	// is still reported under CategoryAbuse for compatibility.
	EmptyContent bool `json:"-"`
}

// Categories returns the distinct categories of v in first-seen order.
func (v Verdict) Categories() []Category {
	if len(v.Reasons) == 0 {
		return nil
	}
	out := make([]Category, 0, len(v.Reasons))
	seen := make(map[Category]struct{}, len(v.Reasons))
	for _, r := range v.Reasons {
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}

// Annotation is what a post or comment store persists alongside the content.
type Annotation struct {
	IsFlagged            bool     `json:"isFlagged"`
	ModerationCategories []Reason `json:"moderationCategories"`
}

// Annotate converts a verdict into the fields persisted with stored content.
func Annotate(v Verdict) Annotation {
	reasons := make([]Reason, len(v.Reasons))
	copy(reasons, v.Reasons)
	return Annotation{
		IsFlagged:            !v.IsAllowed,
		ModerationCategories: reasons,
	}
}
