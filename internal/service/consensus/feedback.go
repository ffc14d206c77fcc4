package consensus

import (
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// FeedbackInput is everything needed to build one refinement prompt.
type FeedbackInput struct {
	// Question is the caller's original prompt, without injected history.
	Question string
	// Own is the model's successful initial result.
	Own core.ConsultationResult
	// Peers are the other successful initial results, in roster order.
	Peers []core.ConsultationResult
	// CustomTemplate, when set, is sent verbatim.
	CustomTemplate string
}

type feedbackPeer struct {
	Model string
	Text  string
}

// BuildFeedbackPrompt builds the refinement prompt for one model.
func BuildFeedbackPrompt(in FeedbackInput) (string, error) {
	if in.CustomTemplate != "" {
		return in.CustomTemplate, nil
	}

	peers := make([]feedbackPeer, 0, len(in.Peers))
	for _, p := range in.Peers {
		peers = append(peers, feedbackPeer{Model: p.Model, Text: orPlaceholder(p.Text)})
	}

	return renderPrompt("feedback", struct {
		Question string
		Own      string
		Peers    []feedbackPeer
	}{
		Question: in.Question,
		Own:      orPlaceholder(in.Own.Text),
		Peers:    peers,
	})
}

func orPlaceholder(text string) string {
	if text == "" {
		return "No response available"
	}
	return text
}

// RefinementPlan schedules one model for the refinement phase.
type RefinementPlan struct {
	// Index is the model's position in the roster and the initial outcome.
	Index int
	Own   core.ConsultationResult
	Peers []core.ConsultationResult
}

// PlanRefinement selects the models eligible for refinement. Only initial
// successes are refined, and only when at least two models succeeded;
// otherwise no refinement happens at all.
func PlanRefinement(initial core.PhaseOutcome) []RefinementPlan {
	successIdx := make([]int, 0, len(initial))
	for i, r := range initial {
		if r.OK() {
			successIdx = append(successIdx, i)
		}
	}
	if len(successIdx) < 2 {
		return nil
	}

	plans := make([]RefinementPlan, 0, len(successIdx))
	for _, i := range successIdx {
		peers := make([]core.ConsultationResult, 0, len(successIdx)-1)
		for _, j := range successIdx {
			if j != i {
				peers = append(peers, initial[j])
			}
		}
		plans = append(plans, RefinementPlan{Index: i, Own: initial[i], Peers: peers})
	}
	return plans
}
