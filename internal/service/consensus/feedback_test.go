package consensus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/testutil"
)

func success(model, text string) core.ConsultationResult {
	return core.Succeeded(model, "mock", core.PhaseInitial, text, core.Usage{InputTokens: 10, OutputTokens: 5}, 0)
}

func TestBuildFeedbackPrompt_Default(t *testing.T) {
	prompt, err := BuildFeedbackPrompt(FeedbackInput{
		Question: "How should we cache sessions?",
		Own:      success("alpha", "Use Redis."),
		Peers:    []core.ConsultationResult{success("beta", "Use a queue."), success("gamma", "")},
	})
	require.NoError(t, err)

	testutil.NewGolden(t, "testdata").AssertString("feedback_default", prompt)
}

func TestBuildFeedbackPrompt_AttributesPeersInOrder(t *testing.T) {
	prompt, err := BuildFeedbackPrompt(FeedbackInput{
		Question: "Q",
		Own:      success("a", "mine"),
		Peers:    []core.ConsultationResult{success("b", "B says"), success("c", "C says")},
	})
	require.NoError(t, err)

	first := strings.Index(prompt, "=== Response 1 from b ===\nB says")
	second := strings.Index(prompt, "=== Response 2 from c ===\nC says")
	assert.NotEqual(t, -1, first)
	assert.Greater(t, second, first)
	assert.Contains(t, prompt, "Your initial response was:\nmine\n")
	assert.NotContains(t, prompt, "from a ===")
}

func TestBuildFeedbackPrompt_CustomTemplateIsVerbatim(t *testing.T) {
	custom := "Reconsider {{ .Question }} given your peers."
	prompt, err := BuildFeedbackPrompt(FeedbackInput{
		Question:       "Q",
		Own:            success("a", "mine"),
		Peers:          []core.ConsultationResult{success("b", "theirs")},
		CustomTemplate: custom,
	})
	require.NoError(t, err)
	assert.Equal(t, custom, prompt)
}

func TestPlanRefinement(t *testing.T) {
	t.Run("fewer than two successes", func(t *testing.T) {
		assert.Nil(t, PlanRefinement(core.PhaseOutcome{success("a", "x")}))
		assert.Nil(t, PlanRefinement(core.PhaseOutcome{
			success("a", "x"),
			core.Failed("b", core.PhaseInitial, errors.New("down"), 0),
		}))
		assert.Nil(t, PlanRefinement(nil))
	})

	t.Run("failures are neither refined nor shown", func(t *testing.T) {
		initial := core.PhaseOutcome{
			success("a", "A"),
			core.Failed("b", core.PhaseInitial, errors.New("down"), 0),
			success("c", "C"),
			success("d", "D"),
		}
		plans := PlanRefinement(initial)
		require.Len(t, plans, 3)

		assert.Equal(t, 0, plans[0].Index)
		assert.Equal(t, 2, plans[1].Index)
		assert.Equal(t, 3, plans[2].Index)

		assert.Equal(t, []string{"c", "d"}, models(plans[0].Peers))
		assert.Equal(t, []string{"a", "d"}, models(plans[1].Peers))
		assert.Equal(t, []string{"a", "c"}, models(plans[2].Peers))
	})
}

func models(rs []core.ConsultationResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Model
	}
	return out
}

func TestDefaultSystemPrompt(t *testing.T) {
	s := DefaultSystemPrompt()
	assert.Contains(t, s, "## Solution Overview")
	assert.Contains(t, s, "LINE│")
}
