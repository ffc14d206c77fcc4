package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/testutil"
)

func timed(r core.ConsultationResult, elapsed time.Duration) core.ConsultationResult {
	r.Elapsed = elapsed
	return r
}

func mixedInput() SynthesisInput {
	return SynthesisInput{
		Prompt:               "Q",
		ModelsConsulted:      3,
		CrossFeedbackEnabled: true,
		Initial: core.PhaseOutcome{
			timed(core.Succeeded("a", "p1", core.PhaseInitial, "A1", core.Usage{InputTokens: 100, OutputTokens: 10}, 0), 2*time.Second),
			core.Failed("b", core.PhaseInitial, errors.New("401 unauthorized"), time.Second),
			timed(core.Succeeded("c", "p2", core.PhaseInitial, "C1", core.Usage{InputTokens: 50, OutputTokens: 5}, 0), time.Second),
		},
		Refined: core.PhaseOutcome{
			timed(core.Succeeded("a", "p1", core.PhaseRefinement, "A2", core.Usage{InputTokens: 300, OutputTokens: 30}, 0), 3*time.Second),
			core.Failed("c", core.PhaseRefinement, errors.New("rate limited"), time.Second),
		},
	}
}

func TestSynthesize_MergesPhases(t *testing.T) {
	report := Synthesize(mixedInput())

	assert.Equal(t, core.ReportStatusComplete, report.Status)
	assert.True(t, report.ConsensusComplete)
	assert.Equal(t, "Q", report.InitialPrompt)
	assert.Equal(t, 3, report.ModelsConsulted)
	assert.Equal(t, 2, report.SuccessfulResponses)
	assert.Equal(t, core.NextStepsInstruction, report.NextSteps)
	assert.Nil(t, report.ContinuationOffer)

	require.Len(t, report.FailedModels, 1)
	assert.Equal(t, core.ModelFailure{
		Model: "b", Error: "401 unauthorized", Phase: core.PhaseInitial, Kind: core.StatusError, Category: core.ErrCatInternal,
	}, report.FailedModels[0])

	require.Len(t, report.RefinementFailures, 1)
	assert.Equal(t, "c", report.RefinementFailures[0].Model)
	assert.Equal(t, core.PhaseRefinement, report.RefinementFailures[0].Phase)

	require.Len(t, report.Responses, 2)
	a, c := report.Responses[0], report.Responses[1]

	assert.Equal(t, "a", a.Model)
	assert.Equal(t, "A2", a.Response)
	assert.True(t, a.Metadata.Refined)
	assert.Equal(t, "p1", a.Metadata.Provider)
	assert.InDelta(t, 2.0, a.Metadata.InitialResponseTime, 1e-9)
	require.NotNil(t, a.Metadata.RefinementResponseTime)
	assert.InDelta(t, 3.0, *a.Metadata.RefinementResponseTime, 1e-9)
	assert.InDelta(t, 5.0, a.Metadata.TotalResponseTime, 1e-9)
	assert.Equal(t, 100, a.Metadata.InputTokensInitial)
	assert.Equal(t, 300, *a.Metadata.InputTokensRefinement)
	assert.Equal(t, 30, *a.Metadata.OutputTokensRefinement)
	assert.Equal(t, 400, a.Metadata.TotalInputTokens)
	assert.Equal(t, 40, a.Metadata.TotalOutputTokens)

	// A failed refinement keeps the initial answer.
	assert.Equal(t, "c", c.Model)
	assert.Equal(t, "C1", c.Response)
	assert.False(t, c.Metadata.Refined)
	assert.Nil(t, c.Metadata.RefinementResponseTime)
	assert.Nil(t, c.Metadata.InputTokensRefinement)
	assert.Equal(t, 50, c.Metadata.TotalInputTokens)
	assert.InDelta(t, 1.0, c.Metadata.TotalResponseTime, 1e-9)

	assert.Equal(t, core.ReportMetadata{
		ToolName:              core.ToolName,
		WorkflowType:          core.WorkflowParallelWithFeedback,
		TotalModels:           3,
		SuccessfulModels:      2,
		ModelsWithRefinements: 1,
	}, report.Metadata)
}

func TestSynthesize_IsDeterministic(t *testing.T) {
	assert.Equal(t, Synthesize(mixedInput()), Synthesize(mixedInput()))
}

func TestSynthesize_WithoutRefinement(t *testing.T) {
	report := Synthesize(SynthesisInput{
		Prompt:          "Q",
		ModelsConsulted: 2,
		Initial: core.PhaseOutcome{
			core.Succeeded("a", "p", core.PhaseInitial, "X", core.Usage{}, time.Second),
			core.TimedOut("b", core.PhaseInitial, 500*time.Millisecond, 500*time.Millisecond),
		},
	})

	assert.Equal(t, core.WorkflowParallel, report.Metadata.WorkflowType)
	assert.Nil(t, report.RefinementFailures)
	require.Len(t, report.FailedModels, 1)
	assert.Equal(t, core.StatusTimeout, report.FailedModels[0].Kind)
	assert.Equal(t, "phase timeout exceeded (500ms) for model b", report.FailedModels[0].Error)
}

func TestSynthesize_AllFailed(t *testing.T) {
	report := Synthesize(SynthesisInput{
		Prompt:          "Q",
		ModelsConsulted: 1,
		Initial:         core.PhaseOutcome{core.Failed("a", core.PhaseInitial, testutil.ErrTest, 0)},
	})
	assert.Equal(t, core.ReportStatusComplete, report.Status)
	assert.Zero(t, report.SuccessfulResponses)
	assert.Empty(t, report.Responses)
	assert.NotNil(t, report.Responses)
	assert.Len(t, report.FailedModels, 1)
}

func TestFormatForStorage(t *testing.T) {
	report := Synthesize(mixedInput())
	want := "Consensus gathering complete - 2 models responded\n\n" +
		"Model responses:\n\n" +
		"--- a ---\nA2\n\n" +
		"--- c ---\nC1\n\n" +
		"Failed models: 1\n" +
		"- b: 401 unauthorized"
	assert.Equal(t, want, FormatForStorage(report))

	empty := Synthesize(SynthesisInput{Prompt: "Q"})
	assert.Equal(t, "Consensus gathering complete - 0 models responded", FormatForStorage(empty))
}

func TestTurnMetadata_RoundTripsThroughHistory(t *testing.T) {
	report := Synthesize(mixedInput())
	turn := core.Turn{Role: core.RoleAssistant, ToolName: core.ToolName, Metadata: turnMetadata(report)}

	h := ExtractHistory(&core.Thread{Turns: []core.Turn{turn}}, nil)
	a, _ := h.Answer("a")
	c, _ := h.Answer("c")
	assert.Equal(t, "A2", a)
	assert.Equal(t, "C1", c)
	assert.Equal(t, []interface{}{"a", "c"}, turn.Metadata[core.MetaConsultedModels])
}

func successfulReport(t *testing.T) *core.ConsensusReport {
	t.Helper()
	return Synthesize(mixedInput())
}

func persistRequest(continuation string) PersistRequest {
	return PersistRequest{
		Prompt:              "Q",
		ContinuationID:      continuation,
		Models:              []core.ModelSpec{{Model: "a"}, {Model: "b"}, {Model: "c"}},
		Files:               []string{"/src/main.go"},
		EnableCrossFeedback: true,
		Temperature:         0.2,
	}
}

// fillingStore lets another writer take the thread's last slot right
// before the recorder appends its exchange.
type fillingStore struct {
	*state.MemoryStore
	armed bool
}

func (s *fillingStore) AddTurn(ctx context.Context, id string, turns ...core.Turn) (bool, error) {
	if s.armed {
		s.armed = false
		if _, err := s.MemoryStore.AddTurn(ctx, id, core.Turn{Role: core.RoleUser, Content: "concurrent"}); err != nil {
			return false, err
		}
	}
	return s.MemoryStore.AddTurn(ctx, id, turns...)
}

func TestRecorder_Persist_ConcurrentFillLeavesNoDanglingTurn(t *testing.T) {
	ctx := context.Background()
	store := &fillingStore{MemoryStore: state.NewMemoryStore(state.WithMaxTurns(4))}
	rec := NewRecorder(store, nil)

	first, err := rec.Persist(ctx, successfulReport(t), persistRequest(""))
	require.NoError(t, err)
	require.NotNil(t, first)

	store.armed = true
	second, err := rec.Persist(ctx, successfulReport(t), persistRequest(first.ContinuationID))
	require.NoError(t, err)
	assert.Nil(t, second)

	thread, err := store.GetThread(ctx, first.ContinuationID)
	require.NoError(t, err)
	require.Len(t, thread.Turns, 3)
	assert.Equal(t, core.RoleAssistant, thread.Turns[1].Role)
	assert.Equal(t, "concurrent", thread.Turns[2].Content)
}

func TestRecorder_Persist(t *testing.T) {
	ctx := context.Background()

	t.Run("no successes, no offer", func(t *testing.T) {
		store := state.NewMemoryStore()
		report := Synthesize(SynthesisInput{
			Prompt:          "Q",
			ModelsConsulted: 1,
			Initial:         core.PhaseOutcome{core.Failed("a", core.PhaseInitial, testutil.ErrTest, 0)},
		})
		offer, err := NewRecorder(store, nil).Persist(ctx, report, persistRequest(""))
		require.NoError(t, err)
		assert.Nil(t, offer)
		assert.Zero(t, store.Len())
	})

	t.Run("new thread", func(t *testing.T) {
		store := state.NewMemoryStore()
		offer, err := NewRecorder(store, nil).Persist(ctx, successfulReport(t), persistRequest(""))
		require.NoError(t, err)
		require.NotNil(t, offer)
		assert.Equal(t, core.DefaultMaxTurns-2, offer.RemainingTurns)
		assert.Equal(t, "You can continue this conversation for 18 more exchanges.", offer.Note)

		thread, err := store.GetThread(ctx, offer.ContinuationID)
		require.NoError(t, err)
		require.Len(t, thread.Turns, 2)
		assert.Equal(t, core.RoleUser, thread.Turns[0].Role)
		assert.Equal(t, "Q", thread.Turns[0].Content)
		assert.Equal(t, []string{"/src/main.go"}, thread.Turns[0].Files)
		assert.Equal(t, core.RoleAssistant, thread.Turns[1].Role)
		assert.Equal(t, core.ModelProviderTag, thread.Turns[1].ModelProvider)
		assert.Equal(t, "a, c", thread.Turns[1].ModelName)
		assert.Equal(t, []interface{}{"a", "b", "c"}, thread.InitialContext["models"])
	})

	t.Run("continuation appends to the same thread", func(t *testing.T) {
		store := state.NewMemoryStore()
		rec := NewRecorder(store, nil)
		first, err := rec.Persist(ctx, successfulReport(t), persistRequest(""))
		require.NoError(t, err)

		second, err := rec.Persist(ctx, successfulReport(t), persistRequest(first.ContinuationID))
		require.NoError(t, err)
		assert.Equal(t, first.ContinuationID, second.ContinuationID)
		assert.Equal(t, core.DefaultMaxTurns-4, second.RemainingTurns)

		thread, err := store.GetThread(ctx, first.ContinuationID)
		require.NoError(t, err)
		assert.Len(t, thread.Turns, 4)
	})

	t.Run("unknown continuation starts a new thread", func(t *testing.T) {
		store := state.NewMemoryStore()
		missing := "0b9d8f2a-2222-4222-8222-222222222222"
		offer, err := NewRecorder(store, nil).Persist(ctx, successfulReport(t), persistRequest(missing))
		require.NoError(t, err)
		require.NotNil(t, offer)
		assert.NotEqual(t, missing, offer.ContinuationID)
		assert.Equal(t, core.DefaultMaxTurns-2, offer.RemainingTurns)
	})

	t.Run("full thread starts a linked thread", func(t *testing.T) {
		store := state.NewMemoryStore(state.WithMaxTurns(3))
		rec := NewRecorder(store, nil)
		first, err := rec.Persist(ctx, successfulReport(t), persistRequest(""))
		require.NoError(t, err)
		assert.Equal(t, 1, first.RemainingTurns)

		second, err := rec.Persist(ctx, successfulReport(t), persistRequest(first.ContinuationID))
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.NotEqual(t, first.ContinuationID, second.ContinuationID)

		thread, err := store.GetThread(ctx, second.ContinuationID)
		require.NoError(t, err)
		assert.Equal(t, first.ContinuationID, thread.ParentThreadID)
		assert.Len(t, thread.Turns, 2)
	})

	t.Run("refused turn means no offer", func(t *testing.T) {
		store := state.NewMemoryStore(state.WithMaxTurns(1))
		offer, err := NewRecorder(store, nil).Persist(ctx, successfulReport(t), persistRequest(""))
		require.NoError(t, err)
		assert.Nil(t, offer)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		store := brokenStore{state.NewMemoryStore()}
		_, err := NewRecorder(store, nil).Persist(ctx, successfulReport(t), persistRequest("0b9d8f2a-2222-4222-8222-222222222222"))
		require.Error(t, err)
		assert.Equal(t, core.CodeStoreFailed, core.GetCode(err))
		assert.ErrorIs(t, err, testutil.ErrTest)
	})
}
