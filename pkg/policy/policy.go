package policy

import (
	"context"
	_ "embed"
	"sort"

	"github.com/polisai/polis-moderation/pkg/moderation"
)

// Action defines the presentation outcome for a piece of content.
type Action string

const (
	// ActionPublish shows the content without warnings.
	ActionPublish Action = "publish"
	// ActionFlag stores the content marked as flagged.
	ActionFlag Action = "flag"
)

// Disposition captures the result of a policy evaluation.
type Disposition struct {
	Action         Action   `json:"action"`
	RevealRequired bool     `json:"revealRequired"`
	Labels         []string `json:"labels"`
	Reason         string   `json:"reason,omitempty"`
}

// Input provides context for policy evaluation.
type Input struct {
	// Kind is the content kind, such as "post" or "comment".
	Kind         string
	Verdict      moderation.Verdict
	Entrypoint   string
	DisableCache bool
}

// Evaluator decides the disposition for a verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Disposition, error)
}

// DefaultModule is the built-in Rego disposition policy.
//
//go:embed default.rego
var DefaultModule string

// DefaultEntrypoint is the decision path exported by DefaultModule.
const DefaultEntrypoint = "moderation/disposition/decision"

// Static applies the built-in rules without OPA. It is the fallback used when
// a policy evaluation fails.
type Static struct{}

// Evaluate implements Evaluator.
func (Static) Evaluate(_ context.Context, input Input) (Disposition, error) {
	return DefaultDisposition(input.Verdict), nil
}

// DefaultDisposition flags any disallowed verdict and requires a reveal for it.
// Labels are the verdict categories in lexical order.
func DefaultDisposition(v moderation.Verdict) Disposition {
	labels := make([]string, 0, len(v.Reasons))
	for _, c := range v.Categories() {
		labels = append(labels, string(c))
	}
	sort.Strings(labels)
	if v.IsAllowed {
		return Disposition{Action: ActionPublish, Labels: labels}
	}
	return Disposition{
		Action:         ActionFlag,
		RevealRequired: true,
		Labels:         labels,
		Reason:         "content flagged by automated moderation",
	}
}
