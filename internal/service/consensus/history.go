package consensus

import (
	"context"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// History holds the latest answer of every model that took part in earlier
// consultations of a thread, in first-appearance order.
type History struct {
	order   []string
	answers map[string]string
}

// Len returns the number of models with a prior answer.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.order)
}

// Answer returns the model's prior answer.
func (h *History) Answer(model string) (string, bool) {
	if h == nil {
		return "", false
	}
	a, ok := h.answers[model]
	return a, ok
}

// For returns the history text to show the model with the given label. A
// model that answered before sees only its own answers; a model new to the
// thread sees every prior answer attributed to its author. Answers given
// under other overrides of the same model count as its own.
func (h *History) For(label string) string {
	if h.Len() == 0 {
		return ""
	}
	if own, ok := h.answers[label]; ok {
		return "=== YOUR PREVIOUS RESPONSE ===\n\n" + own + "\n"
	}

	var variants []string
	for _, m := range h.order {
		if baseModel(m) == baseModel(label) {
			variants = append(variants, m)
		}
	}
	switch len(variants) {
	case 0:
		return attributed("=== PREVIOUS MODEL RESPONSES ===\n", h.order, h.answers)
	case 1:
		return "=== YOUR PREVIOUS RESPONSE ===\n\n" + h.answers[variants[0]] + "\n"
	default:
		return attributed("=== YOUR PREVIOUS RESPONSES ===\n", variants, h.answers)
	}
}

func attributed(header string, models []string, answers map[string]string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, m := range models {
		b.WriteString("\n--- ")
		b.WriteString(m)
		b.WriteString("'s response ---\n")
		b.WriteString(answers[m])
		b.WriteString("\n")
	}
	return b.String()
}

// baseModel strips the override suffix from a label.
func baseModel(label string) string {
	base, _, _ := strings.Cut(label, "[")
	return base
}

func (h *History) set(model, answer string) {
	if _, seen := h.answers[model]; !seen {
		h.order = append(h.order, model)
	}
	h.answers[model] = answer
}

// ExtractHistory scans a thread for consensus assistant turns and collects
// their per-model answers. Later turns overwrite earlier answers. Turns with
// missing or malformed metadata are skipped.
func ExtractHistory(thread *core.Thread, logger *logging.Logger) *History {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &History{answers: make(map[string]string)}
	if thread == nil {
		return h
	}

	for i, turn := range thread.Turns {
		if turn.Role != core.RoleAssistant || turn.ToolName != core.ToolName {
			continue
		}
		data, ok := turn.Metadata[core.MetaConsensusData].(map[string]interface{})
		if !ok {
			logger.Debug("consensus turn without usable consensus data", "turn", i)
			continue
		}
		for j, item := range responseItems(data[core.MetaResponses]) {
			model, _ := item["model"].(string)
			answer, _ := item["response"].(string)
			status, _ := item["status"].(string)
			if model == "" || answer == "" || status != string(core.StatusSuccess) {
				logger.Debug("skipping malformed history entry", "turn", i, "entry", j)
				continue
			}
			h.set(model, answer)
		}
	}
	return h
}

// responseItems normalizes the stored response list. Stores that round-trip
// through JSON yield []interface{}; in-memory stores keep the written type.
func responseItems(v interface{}) []map[string]interface{} {
	switch list := v.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		items := make([]map[string]interface{}, 0, len(list))
		for _, e := range list {
			if m, ok := e.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
		return items
	default:
		return nil
	}
}

// Disambiguator decides which slice of a thread's history each model sees.
type Disambiguator struct {
	threads core.ThreadStore
	logger  *logging.Logger
}

// NewDisambiguator creates a disambiguator reading from threads.
func NewDisambiguator(threads core.ThreadStore, logger *logging.Logger) *Disambiguator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Disambiguator{threads: threads, logger: logger}
}

// Load reconstructs the history of a thread. Missing threads and store
// failures yield an empty history.
func (d *Disambiguator) Load(ctx context.Context, continuationID string) *History {
	if continuationID == "" || d.threads == nil {
		return &History{answers: map[string]string{}}
	}
	thread, err := d.threads.GetThread(ctx, continuationID)
	if err != nil {
		d.logger.Warn("loading continuation thread failed", "thread_id", continuationID, "error", err)
		return &History{answers: map[string]string{}}
	}
	if thread == nil {
		d.logger.Debug("continuation thread not found", "thread_id", continuationID)
	}
	return ExtractHistory(thread, d.logger)
}

// Disambiguate returns the history text for one model, or "" when there is
// nothing to show.
func (d *Disambiguator) Disambiguate(ctx context.Context, model, continuationID string) string {
	return d.Load(ctx, continuationID).For(model)
}
