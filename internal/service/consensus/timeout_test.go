package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/testutil"
)

func TestTimeoutResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	p := testutil.NewMockProvider("mock").
		WithTimeout("slow", 900*time.Second).
		WithTimeout("fast", 30*time.Second)
	providers := testutil.NewMockResolver().Add(p, "slow", "fast", "plain")

	r := NewTimeoutResolver(providers, 120*time.Second, 10*time.Second, nil)

	assert.Equal(t, 900*time.Second, r.Resolve(ctx, "slow"))
	assert.Equal(t, 30*time.Second, r.Resolve(ctx, "fast"))
	assert.Equal(t, 120*time.Second, r.Resolve(ctx, "plain"), "no declared timeout")
	assert.Equal(t, 120*time.Second, r.Resolve(ctx, "unknown"), "no provider")
}

func TestTimeoutResolver_CapabilityErrorFallsBack(t *testing.T) {
	p := testutil.NewMockProvider("mock").WithCapabilitiesError(testutil.ErrTest)
	r := NewTimeoutResolver(testutil.NewMockResolver().Add(p, "m"), 0, 0, nil)

	assert.Equal(t, DefaultModelTimeout, r.Resolve(context.Background(), "m"))
}

func TestTimeoutResolver_CachesPerCall(t *testing.T) {
	ctx := context.Background()
	p := testutil.NewMockProvider("mock").WithTimeout("m", time.Minute)
	providers := testutil.NewMockResolver().Add(p, "m")

	r := NewTimeoutResolver(providers, 0, 0, nil)
	r.Resolve(ctx, "m")
	r.Resolve(ctx, "m")
	r.PhaseTimeout(ctx, []string{"m", "m"})
	assert.Equal(t, 1, p.CallCount("Capabilities"))

	// A fresh resolver sees capability changes.
	p.WithTimeout("m", 2*time.Minute)
	assert.Equal(t, 2*time.Minute, NewTimeoutResolver(providers, 0, 0, nil).Resolve(ctx, "m"))
}

func TestTimeoutResolver_PhaseTimeout(t *testing.T) {
	ctx := context.Background()
	p := testutil.NewMockProvider("mock").
		WithTimeout("a", 400*time.Millisecond).
		WithTimeout("b", 250*time.Millisecond)
	providers := testutil.NewMockResolver().Add(p, "a", "b")

	tests := []struct {
		name   string
		buffer time.Duration
		models []string
		want   time.Duration
	}{
		{"max plus buffer", 100 * time.Millisecond, []string{"b", "a"}, 500 * time.Millisecond},
		{"zero buffer", 0, []string{"a", "b"}, 400 * time.Millisecond},
		{"negative buffer uses default", -1, []string{"b"}, 250*time.Millisecond + DefaultPhaseBuffer},
		{"no models uses fallback", 0, nil, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTimeoutResolver(providers, time.Second, tt.buffer, nil)
			assert.Equal(t, tt.want, r.PhaseTimeout(ctx, tt.models))
		})
	}
}
