package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/fsutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		Name:       "test",
		BaseURL:    srv.URL + "/v1",
		APIKey:     "sk-test-key",
		MaxRetries: 2,
		RetryWait:  time.Millisecond,
		Models: map[string]core.ModelCapabilities{
			"gpt-test": {Model: "gpt-test", SupportsTemp: true, SupportsImages: true},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewOpenAIClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func writeCompletion(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"model":"gpt-test-2026","choices":[{"message":{"role":"assistant","content":` +
		mustJSON(text) + `},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got chatRequest
	var auth, extra string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		extra = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "hello")
	}, func(cfg *Config) {
		cfg.Headers = map[string]string{"X-Title": "quorum-consensus"}
	})

	res, err := c.Generate(context.Background(), core.GenerateRequest{
		Prompt:          "Q",
		SystemPrompt:    "S",
		Model:           "gpt-test",
		Temperature:     0.3,
		ReasoningEffort: "high",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, core.Usage{InputTokens: 12, OutputTokens: 7}, res.Usage)
	assert.Equal(t, "gpt-test-2026", res.Model)
	assert.Equal(t, "test", res.Provider)

	assert.Equal(t, "Bearer sk-test-key", auth)
	assert.Equal(t, "quorum-consensus", extra)
	assert.Equal(t, "gpt-test", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Equal(t, "high", got.ReasoningEffort)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "S", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Q", got.Messages[1].Content)
}

func TestOpenAIClient_AttachesImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diagram.png"), []byte{0x89, 'P', 'N', 'G'}, 0o600))

	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		writeCompletion(w, "seen")
	}, func(cfg *Config) { cfg.FilesRoot = dir })

	_, err := c.Generate(context.Background(), core.GenerateRequest{
		Prompt: "Describe",
		Model:  "gpt-test",
		Images: []string{"diagram.png", "https://example.com/a.jpg"},
	})
	require.NoError(t, err)

	messages := raw["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/png;base64,iVBORw==", url)
	assert.Equal(t, "https://example.com/a.jpg", parts[2].(map[string]any)["image_url"].(map[string]any)["url"])
}

func TestOpenAIClient_ImagesStayInsideFilesRoot(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "private.png")
	require.NoError(t, os.WriteFile(outside, []byte{0x89, 'P', 'N', 'G'}, 0o600))
	project := filepath.Join(base, "project")
	require.NoError(t, os.MkdirAll(project, 0o750))

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, "seen")
	}, func(cfg *Config) { cfg.FilesRoot = project })

	for _, img := range []string{"../private.png", outside} {
		_, err := c.Generate(context.Background(), core.GenerateRequest{
			Prompt: "Describe",
			Model:  "gpt-test",
			Images: []string{img},
		})
		require.Error(t, err, img)
		assert.Equal(t, core.CodeInvalidImage, core.GetCode(err))
		assert.ErrorIs(t, err, fsutil.ErrOutsideRoot)
	}
	assert.Zero(t, calls.Load())
}

func TestOpenAIClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(w, "third time")
	})

	res, err := c.Generate(context.Background(), core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status   int
		category core.ErrorCategory
		calls    int32
	}{
		{http.StatusUnauthorized, core.ErrCatAuth, 1},
		{http.StatusForbidden, core.ErrCatAuth, 1},
		{http.StatusNotFound, core.ErrCatValidation, 1},
		{http.StatusBadRequest, core.ErrCatExecution, 1},
		{http.StatusTooManyRequests, core.ErrCatRateLimit, 3},
		{http.StatusServiceUnavailable, core.ErrCatExecution, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			})

			_, err := c.Generate(context.Background(), core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
			require.Error(t, err)
			assert.Equal(t, tt.category, core.GetCategory(err))
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestOpenAIClient_TimeoutIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
	require.Error(t, err)
	assert.Equal(t, core.ErrCatTimeout, core.GetCategory(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Generate(context.Background(), core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
	require.Error(t, err)
	assert.Equal(t, core.CodeModelFailed, core.GetCode(err))
}

func TestOpenAIClient_RateLimiterHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "ok")
	}, func(cfg *Config) { cfg.RateLimitRPM = 1 })

	_, err := c.Generate(context.Background(), core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, core.GenerateRequest{Prompt: "Q", Model: "gpt-test"})
	require.Error(t, err)
	assert.Equal(t, core.ErrCatTimeout, core.GetCategory(err))
}

func TestOpenAIClient_Capabilities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	caps, err := c.Capabilities(context.Background(), "gpt-test")
	require.NoError(t, err)
	assert.True(t, caps.SupportsImages)

	_, err = c.Capabilities(context.Background(), "other")
	assert.Equal(t, core.ErrCatNotFound, core.GetCategory(err))
}

func TestNewOpenAIClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAIClient(Config{Name: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidConfig, core.GetCode(err))
}
