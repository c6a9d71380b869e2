// Package service combines the classifier, the disposition policy and
// telemetry into the moderation entry point used by the HTTP API and CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-moderation/pkg/config"
	"github.com/polisai/polis-moderation/pkg/moderation"
	"github.com/polisai/polis-moderation/pkg/policy"
	"github.com/polisai/polis-moderation/pkg/telemetry"
)

// Kind is the type of user content being moderated.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

var (
	// ErrUnknownKind is returned for kinds other than post and comment.
	ErrUnknownKind = errors.New("unknown content kind")
	// ErrTooLong is returned when content exceeds the configured limit for its kind.
	ErrTooLong = errors.New("content exceeds maximum length")
)

// Submission is one piece of content to moderate.
type Submission struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
}

// Outcome is the full moderation result for a submission.
type Outcome struct {
	Kind        Kind                  `json:"kind"`
	Verdict     moderation.Verdict    `json:"verdict"`
	Annotation  moderation.Annotation `json:"annotation"`
	Disposition policy.Disposition    `json:"disposition"`
}

// Options configure a Moderator.
type Options struct {
	Tables  moderation.Tables
	Limits  config.LimitsConfig
	Policy  policy.Evaluator
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Moderator evaluates submissions. Tables can be swapped at runtime; calls in
// flight keep the classifier they started with.
type Moderator struct {
	classifier atomic.Pointer[moderation.Classifier]
	limits     config.LimitsConfig
	policy     policy.Evaluator
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New constructs a Moderator. Empty keyword tables select the default
// vocabulary, keeping any thresholds set in opts. A nil policy selects
// policy.Static.
func New(opts Options) (*Moderator, error) {
	tables := opts.Tables
	if tables.IsZero() {
		tables = moderation.DefaultTables()
		if opts.Tables.Thresholds != (moderation.Thresholds{}) {
			tables.Thresholds = opts.Tables.Thresholds
		}
	}
	classifier, err := moderation.NewClassifier(tables)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evaluator := opts.Policy
	if evaluator == nil {
		evaluator = policy.Static{}
	}

	m := &Moderator{
		limits:  opts.Limits,
		policy:  evaluator,
		metrics: opts.Metrics,
		logger:  logger,
		tracer:  otel.Tracer("github.com/polisai/polis-moderation/pkg/service"),
	}
	m.classifier.Store(classifier)
	if m.metrics != nil {
		m.metrics.SetTables(classifier.Tables())
	}
	return m, nil
}

// Tables returns the active tables.
func (m *Moderator) Tables() moderation.Tables {
	return m.classifier.Load().Tables()
}

// Validate checks kind and length without classifying.
func (m *Moderator) Validate(sub Submission) error {
	var limit int
	switch sub.Kind {
	case KindPost:
		limit = m.limits.PostMaxLength
	case KindComment:
		limit = m.limits.CommentMaxLength
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, sub.Kind)
	}
	if limit > 0 {
		if n := moderation.Length(moderation.Trim(sub.Content)); n > limit {
			return fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, limit)
		}
	}
	return nil
}

// Moderate validates and classifies a submission. Classification never fails;
// errors are limited to validation. Policy failures fall back to the static
// disposition and are logged.
func (m *Moderator) Moderate(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.Kind == "" {
		sub.Kind = KindPost
	}
	if err := m.Validate(sub); err != nil {
		return Outcome{}, err
	}

	ctx, span := m.tracer.Start(ctx, "moderation.evaluate")
	defer span.End()

	start := time.Now()
	verdict := m.classifier.Load().Evaluate(sub.Content)

	policyFailed := false
	disposition, err := m.policy.Evaluate(ctx, policy.Input{Kind: string(sub.Kind), Verdict: verdict})
	if err != nil {
		policyFailed = true
		m.logger.Warn("Disposition policy failed, using static rules",
			"kind", sub.Kind,
			"error", err)
		disposition = policy.DefaultDisposition(verdict)
	}
	elapsed := time.Since(start)

	telemetry.RecordVerdict(span, string(sub.Kind), verdict, disposition)
	telemetry.RecordEvaluation(ctx, telemetry.Evaluation{
		Kind:        string(sub.Kind),
		Verdict:     verdict,
		Disposition: disposition,
		Duration:    elapsed,
		PolicyError: policyFailed,
	})
	if m.metrics != nil {
		m.metrics.RecordVerdict(string(sub.Kind), verdict)
	}

	if !verdict.IsAllowed {
		m.logger.Debug("Content flagged",
			"kind", sub.Kind,
			"categories", verdict.Categories(),
			"reasons", len(verdict.Reasons))
	}

	return Outcome{
		Kind:        sub.Kind,
		Verdict:     verdict,
		Annotation:  moderation.Annotate(verdict),
		Disposition: disposition,
	}, nil
}

// SetTables swaps the active tables.
func (m *Moderator) SetTables(tables moderation.Tables) error {
	classifier, err := moderation.NewClassifier(tables)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	m.classifier.Store(classifier)
	if m.metrics != nil {
		m.metrics.SetTables(tables)
	}
	if flusher, ok := m.policy.(interface{ FlushCache() }); ok {
		flusher.FlushCache()
	}
	return nil
}

// ReloadTables loads tables from path and swaps them in. On failure the
// previous tables stay active. It matches the config.Watcher callback.
func (m *Moderator) ReloadTables(path string) error {
	tables, err := config.LoadTables(path)
	if err == nil {
		err = m.SetTables(tables)
	}
	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		m.metrics.RecordTableReload(status)
	}
	if err != nil {
		return err
	}
	m.logger.Info("Keyword tables reloaded", "path", path)
	return nil
}
