package consensus

import (
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// HistoryTruncatedNotice replaces continuation history that does not fit.
const HistoryTruncatedNotice = "[Previous conversation history truncated due to size limits]"

// CharEstimator approximates tokens as one per four characters.
type CharEstimator struct{}

// EstimateTokens implements core.TokenEstimator.
func (CharEstimator) EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// promptParts are the pieces assembled into an initial-phase prompt.
type promptParts struct {
	Question string
	History  string
	Files    string
}

func (p promptParts) assemble() string {
	prompt := p.Question
	if p.History != "" {
		prompt = p.History + "\n\nNEW QUESTION:\n" + p.Question
	}
	return withFiles(prompt, p.Files)
}

func (p promptParts) truncated() string {
	return withFiles(HistoryTruncatedNotice+"\n\nNEW QUESTION:\n"+p.Question, p.Files)
}

func withFiles(prompt, files string) string {
	if files == "" {
		return prompt
	}
	return prompt + "\n\n=== CONTEXT FILES ===\n" + files + "\n=== END CONTEXT ==="
}

// sizeChecker verifies that a prompt fits a model's input budget before any
// network call is made.
type sizeChecker struct {
	estimator core.TokenEstimator
}

// fit returns the prompt to send. When the full prompt overflows and carries
// injected history, the history is replaced by a notice and the check runs
// once more. A prompt that still overflows yields PROMPT_TOO_LARGE.
// A non-positive limit disables the check.
func (c sizeChecker) fit(model string, limit int, system string, parts promptParts) (string, bool, error) {
	prompt := parts.assemble()
	if limit <= 0 {
		return prompt, false, nil
	}

	tokens := c.estimator.EstimateTokens(system + "\n\n" + prompt)
	if tokens <= limit {
		return prompt, false, nil
	}
	if parts.History == "" {
		return "", false, core.ErrPromptTooLarge(model, tokens, limit)
	}

	prompt = parts.truncated()
	tokens = c.estimator.EstimateTokens(system + "\n\n" + prompt)
	if tokens <= limit {
		return prompt, true, nil
	}
	return "", true, core.ErrPromptTooLarge(model, tokens, limit)
}
