package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// TypeOpenAI is the provider type for OpenAI-compatible chat completion APIs.
const TypeOpenAI = "openai"

// Client defaults.
const (
	DefaultMaxRetries = 2
	DefaultRetryWait  = time.Second
	maxRetryWait      = 10 * time.Second
	maxImageBytes     = 20 << 20
)

// OpenAIClient talks to any endpoint implementing the OpenAI chat
// completions API (OpenAI, OpenRouter, vLLM, Ollama, ...).
type OpenAIClient struct {
	name      string
	filesRoot string
	http      *resty.Client
	limiter *rate.Limiter
	models  map[string]core.ModelCapabilities
	logger  *logging.Logger
}

// NewOpenAIClient creates a client from configuration.
func NewOpenAIClient(cfg Config, logger *logging.Logger) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("provider %s: base_url is required", cfg.Name))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = DefaultRetryWait
	}

	c := &OpenAIClient{
		name:      cfg.Name,
		filesRoot: cfg.FilesRoot,
		http:      resty.New(),
		models:    cfg.Models,
		logger:    logger,
	}
	if c.filesRoot == "" {
		c.filesRoot = "."
	}
	if c.models == nil {
		c.models = map[string]core.ModelCapabilities{}
	}
	if cfg.RateLimitRPM > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPM)/60.0, cfg.RateLimitRPM)
	}

	c.http.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetRetryCount(retries).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxRetryWait).
		// Only server-side failures and throttling are retried; transport
		// errors, including timeouts, are returned as they are.
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeaders(cfg.Headers)
	if cfg.APIKey != "" {
		c.http.SetAuthToken(cfg.APIKey)
	}

	c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("provider response",
			"status", resp.StatusCode(),
			"duration", resp.Time(),
			"attempt", resp.Request.Attempt)
		return nil
	})
	return c, nil
}

// Name implements core.ModelProvider.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Capabilities implements core.ModelProvider.
func (c *OpenAIClient) Capabilities(_ context.Context, model string) (core.ModelCapabilities, error) {
	if caps, ok := c.models[model]; ok {
		return caps, nil
	}
	return core.ModelCapabilities{}, core.ErrNotFound("model", model)
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a string, or a list of content parts when images are attached.
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate implements core.ModelProvider.
func (c *OpenAIClient) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, fmt.Errorf("waiting for rate limiter for model %s: %w", req.Model, ctx.Err())
			}
			// Wait fails early when the next token lies beyond the deadline.
			return nil, core.ErrTimeout(fmt.Sprintf("model %s: rate limit wait exceeds deadline", req.Model)).WithCause(err)
		}
	}

	body, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var out chatResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, c.transportError(ctx, req.Model, "calling chat completions", err)
	}
	if resp.IsError() {
		return nil, statusError(req.Model, resp.StatusCode(), apiErr.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, core.ErrExecution(core.CodeModelFailed, fmt.Sprintf("model %s returned no choices", req.Model))
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &core.GenerateResult{
		Text: out.Choices[0].Message.Content,
		Usage: core.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
		Model:    model,
		Provider: c.name,
	}, nil
}

func (c *OpenAIClient) buildRequest(req core.GenerateRequest) (*chatRequest, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}

	caps := c.models[req.Model]
	var content interface{} = req.Prompt
	if len(req.Images) > 0 {
		if !caps.SupportsImages {
			c.logger.Debug("model does not accept images, dropping them", "model", req.Model, "images", len(req.Images))
		} else {
			parts := []contentPart{{Type: "text", Text: req.Prompt}}
			for _, img := range req.Images {
				u, err := c.imageDataURL(img)
				if err != nil {
					return nil, core.ErrValidation(core.CodeInvalidImage, fmt.Sprintf("image %s: %v", img, err)).WithCause(err)
				}
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
			}
			content = parts
		}
	}
	messages = append(messages, chatMessage{Role: "user", Content: content})

	out := &chatRequest{
		Model:           req.Model,
		Messages:        messages,
		ReasoningEffort: req.ReasoningEffort,
	}
	if caps.SupportsTemp || len(c.models) == 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	return out, nil
}

// imageDataURL returns img unchanged when it is already a URL, and inlines
// local files under the files root as base64 data URLs.
func (c *OpenAIClient) imageDataURL(img string) (string, error) {
	if strings.HasPrefix(img, "data:") || strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img, nil
	}
	name, err := fsutil.LocalPath(img)
	if err != nil {
		return "", err
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("unsupported image type %q", filepath.Ext(name))
	}

	root, err := os.OpenRoot(c.filesRoot)
	if err != nil {
		return "", err
	}
	defer root.Close()
	data, err := fsutil.ReadRootFile(root, name, maxImageBytes)
	if err != nil {
		return "", err
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// transportError classifies failures that produced no HTTP response.
func (c *OpenAIClient) transportError(ctx context.Context, model, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("model %s timed out while %s", model, stage)).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s for model %s: %w", stage, model, err)
	}
	return core.ErrNetwork(fmt.Sprintf("%s for model %s", stage, model)).WithCause(err)
}

// statusError maps an HTTP error status to a domain error.
func statusError(model string, status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	msg := fmt.Sprintf("model %s: HTTP %d: %s", model, status, message)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(msg)
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit(msg)
	case status == http.StatusNotFound:
		return core.ErrValidation(core.CodeUnknownModel, msg)
	case status == http.StatusRequestEntityTooLarge:
		return core.ErrValidation(core.CodePromptTooLarge, msg)
	default:
		err := core.ErrExecution(core.CodeModelFailed, msg)
		err.Retryable = status >= 500
		return err
	}
}

var _ core.ModelProvider = (*OpenAIClient)(nil)
