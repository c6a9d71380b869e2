package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-moderation/pkg/config"
	"github.com/polisai/polis-moderation/pkg/logging"
	"github.com/polisai/polis-moderation/pkg/moderation"
	"github.com/polisai/polis-moderation/pkg/policy"
	"github.com/polisai/polis-moderation/pkg/telemetry"
)

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate(ctx context.Context, input policy.Input) (policy.Disposition, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(policy.Disposition), args.Error(1)
}

func newModerator(t *testing.T, opts Options) *Moderator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Limits == (config.LimitsConfig{}) {
		opts.Limits = config.Default().Limits
	}
	m, err := New(opts)
	require.NoError(t, err)
	return m
}

func TestModerate_AnnotatesFlaggedContent(t *testing.T) {
	m := newModerator(t, Options{})

	out, err := m.Moderate(context.Background(), Submission{Kind: KindPost, Content: "You are such an idiot for thinking that."})
	require.NoError(t, err)

	assert.Equal(t, KindPost, out.Kind)
	assert.False(t, out.Verdict.IsAllowed)
	assert.True(t, out.Annotation.IsFlagged)
	assert.Equal(t, out.Verdict.Reasons, out.Annotation.ModerationCategories)
	assert.Equal(t, policy.ActionFlag, out.Disposition.Action)
	assert.True(t, out.Disposition.RevealRequired)
}

func TestModerate_DefaultsKindToPost(t *testing.T) {
	m := newModerator(t, Options{})
	out, err := m.Moderate(context.Background(), Submission{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, KindPost, out.Kind)
	assert.False(t, out.Annotation.IsFlagged)
	assert.Equal(t, policy.ActionPublish, out.Disposition.Action)
}

func TestModerate_EmptyContentIsClassifiedNotRejected(t *testing.T) {
	m := newModerator(t, Options{})
	out, err := m.Moderate(context.Background(), Submission{Kind: KindComment, Content: "   "})
	require.NoError(t, err)
	assert.True(t, out.Verdict.EmptyContent)
	assert.Equal(t, []moderation.Reason{{Category: moderation.CategoryAbuse, Detail: "content empty"}}, out.Verdict.Reasons)
}

func TestValidate(t *testing.T) {
	m := newModerator(t, Options{})

	err := m.Validate(Submission{Kind: "story", Content: "x"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	err = m.Validate(Submission{Kind: KindComment, Content: strings.Repeat("a", 201)})
	assert.ErrorIs(t, err, ErrTooLong)

	assert.NoError(t, m.Validate(Submission{Kind: KindPost, Content: strings.Repeat("a", 201)}))
	assert.NoError(t, m.Validate(Submission{Kind: KindPost, Content: "  " + strings.Repeat("é", 280) + "  "}))

	// Emoji outside the BMP take two units each.
	assert.NoError(t, m.Validate(Submission{Kind: KindComment, Content: strings.Repeat("😀", 100)}))
	err = m.Validate(Submission{Kind: KindComment, Content: strings.Repeat("😀", 101)})
	assert.ErrorIs(t, err, ErrTooLong)
	err = m.Validate(Submission{Kind: KindPost, Content: strings.Repeat("😀", 141)})
	assert.ErrorIs(t, err, ErrTooLong)
	assert.NoError(t, m.Validate(Submission{Kind: KindComment, Content: "\uFEFF" + strings.Repeat("a", 200) + "\u00a0"}))

	unlimited := newModerator(t, Options{Limits: config.LimitsConfig{PostMaxLength: 0, CommentMaxLength: 1}})
	assert.NoError(t, unlimited.Validate(Submission{Kind: KindPost, Content: strings.Repeat("a", 5000)}))
}

func TestNew_DefaultTablesKeepThresholds(t *testing.T) {
	m := newModerator(t, Options{Tables: moderation.Tables{Thresholds: moderation.Thresholds{MinRepeats: 2}}})

	assert.Equal(t, moderation.DefaultTables().Map(), m.Tables().Map())
	assert.Equal(t, 2, m.Tables().Thresholds.MinRepeats)
	assert.Equal(t, 2, m.Tables().Thresholds.MinLinks)

	out, err := m.Moderate(context.Background(), Submission{Content: "so so good"})
	require.NoError(t, err)
	assert.Equal(t, []moderation.Reason{{Category: moderation.CategorySpam, Detail: "excessive repetition"}}, out.Verdict.Reasons)
}

func TestModerate_PolicyFailureFallsBack(t *testing.T) {
	evaluator := &mockEvaluator{}
	evaluator.On("Evaluate", mock.Anything, mock.MatchedBy(func(in policy.Input) bool {
		return in.Kind == "comment"
	})).Return(policy.Disposition{}, errors.New("opa unavailable")).Once()

	m := newModerator(t, Options{Policy: evaluator})
	out, err := m.Moderate(context.Background(), Submission{Kind: KindComment, Content: "free money"})
	require.NoError(t, err)

	assert.Equal(t, policy.DefaultDisposition(out.Verdict), out.Disposition)
	evaluator.AssertExpectations(t)
}

func TestModerate_UsesPolicyDecision(t *testing.T) {
	evaluator := &mockEvaluator{}
	want := policy.Disposition{Action: policy.ActionFlag, Labels: []string{"custom"}}
	evaluator.On("Evaluate", mock.Anything, mock.Anything).Return(want, nil)

	m := newModerator(t, Options{Policy: evaluator})
	out, err := m.Moderate(context.Background(), Submission{Kind: KindPost, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, want, out.Disposition)
}

func TestSetTables_SwapsClassifier(t *testing.T) {
	metrics := telemetry.NewMetrics()
	m := newModerator(t, Options{Metrics: metrics})

	out, err := m.Moderate(context.Background(), Submission{Content: "what a bozo"})
	require.NoError(t, err)
	assert.True(t, out.Verdict.IsAllowed)

	tables := moderation.DefaultTables()
	tables.Abuse = moderation.MustKeywordTable("bozo")
	require.NoError(t, m.SetTables(tables))

	out, err = m.Moderate(context.Background(), Submission{Content: "what a bozo"})
	require.NoError(t, err)
	assert.False(t, out.Verdict.IsAllowed)
	assert.Equal(t, []string{"bozo"}, m.Tables().Abuse.Phrases())

	err = m.SetTables(moderation.Tables{Thresholds: moderation.Thresholds{MinLinks: -1}})
	require.Error(t, err)
	assert.Equal(t, []string{"bozo"}, m.Tables().Abuse.Phrases(), "failed swaps keep the active tables")
}

func TestReloadTables(t *testing.T) {
	metrics := telemetry.NewMetrics()
	m := newModerator(t, Options{Metrics: metrics})
	dir := t.TempDir()

	good := filepath.Join(dir, "tables.yaml")
	require.NoError(t, os.WriteFile(good, []byte("misleading:\n  - \"moon landing hoax\"\n"), 0o644))
	require.NoError(t, m.ReloadTables(good))
	assert.Equal(t, []string{"moon landing hoax"}, m.Tables().Misleading.Phrases())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("misleading: [\"\"]\n"), 0o644))
	require.Error(t, m.ReloadTables(bad))
	assert.Equal(t, []string{"moon landing hoax"}, m.Tables().Misleading.Phrases())

	registry := metrics.Registry()
	count, err := testutil.GatherAndCount(registry, "moderation_table_reloads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "success and failure series")
}

func TestModerate_ConcurrentWithReload(t *testing.T) {
	m := newModerator(t, Options{})
	alt := moderation.DefaultTables()
	alt.Abuse = moderation.MustKeywordTable("zzz")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				if i == 0 && n%10 == 0 {
					if n%20 == 0 {
						_ = m.SetTables(alt)
					} else {
						_ = m.SetTables(moderation.DefaultTables())
					}
				}
				out, err := m.Moderate(context.Background(), Submission{Content: "free money"})
				assert.NoError(t, err)
				assert.Equal(t, moderation.CategorySpam, out.Verdict.Reasons[0].Category)
			}
		}(i)
	}
	wg.Wait()
}
