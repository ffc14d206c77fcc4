package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// settings are shared by every thread store backend.
type settings struct {
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

func defaultSettings() settings {
	return settings{
		maxTurns: core.DefaultMaxTurns,
		ttl:      core.DefaultThreadTTL,
		now:      time.Now,
	}
}

// Option configures a thread store.
type Option func(*settings)

// WithMaxTurns sets the per-thread turn budget.
func WithMaxTurns(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithTTL sets how long an idle thread stays readable.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock. Used by tests to age threads.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// MaxTurns implements core.ThreadStore.
func (s settings) MaxTurns() int {
	return s.maxTurns
}

func (s settings) expired(t *core.Thread) bool {
	return s.now().Sub(t.LastUpdatedAt) > s.ttl
}

func (s settings) newThread(toolName, parentID string, initialContext map[string]interface{}) *core.Thread {
	now := s.now().UTC()
	return &core.Thread{
		ThreadID:       uuid.NewString(),
		ParentThreadID: parentID,
		CreatedAt:      now,
		LastUpdatedAt:  now,
		ToolName:       toolName,
		Turns:          []core.Turn{},
		InitialContext: initialContext,
	}
}

// appendTurns adds every turn to t, or none when they do not all fit.
func (s settings) appendTurns(t *core.Thread, turns ...core.Turn) bool {
	if len(t.Turns)+len(turns) > s.maxTurns {
		return false
	}
	now := s.now().UTC()
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = now
		}
		t.Turns = append(t.Turns, turn)
	}
	t.LastUpdatedAt = now
	return true
}

// validID rejects identifiers that were not issued by a store.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
