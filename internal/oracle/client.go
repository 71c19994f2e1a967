package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pulsebot/internal/behavior"
	"pulsebot/pkg/logx"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds one request end to end.
	Timeout time.Duration

	// RatePerSec is the client-side request rate cap toward the service.
	RatePerSec int

	MaxOutputTokens int
	Temperature     float64
}

// Client submits decision contexts to the external generative decision
// service and turns the response into a validated Decision.
//
// It performs exactly one outbound call per Decide invocation and never
// retries; retry policy belongs to the caller.
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpc = c }
}

// WithClock overrides the wall clock used in prompts (tests).
func WithClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

// NewClient validates the configuration and builds a client. A missing
// API key is a configuration error: the pipeline must not start with a
// non-functional oracle.
func NewClient(cfg Config, log logx.Logger, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("oracle: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 300
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}

	c := &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---- wire types (generateContent) ----

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Decide submits the context and signals and returns the validated
// decision. Every failure mode maps to one of the typed errors:
// ErrServiceUnavailable, ErrMalformedResponse, or *ValidationError.
func (c *Client) Decide(ctx context.Context, dctx *behavior.Context, sig behavior.Signals) (*Decision, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	text, err := c.generate(ctx, buildPrompt(c.now(), dctx, sig))
	if err != nil {
		return nil, err
	}

	obj, ok := extractJSONObject(text)
	if !ok {
		return nil, ErrMalformedResponse
	}

	var raw rawDecision
	if err := json.Unmarshal(obj, &raw); err != nil {
		return nil, ErrMalformedResponse
	}
	return raw.validate()
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("oracle: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the log, then fail closed.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("oracle returned non-success status",
			logx.Int("status", resp.StatusCode),
			logx.String("body", string(snippet)))
		return "", fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var b strings.Builder
	for _, cand := range gr.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// extractJSONObject finds the first well-formed JSON object embedded in
// free-form text. The service is asked for strict JSON but routinely
// wraps it in prose or markdown fences.
func extractJSONObject(text string) (json.RawMessage, bool) {
	for start := 0; start < len(text); {
		i := strings.IndexByte(text[start:], '{')
		if i < 0 {
			return nil, false
		}
		i += start
		if end, ok := matchBraces(text, i); ok {
			raw := json.RawMessage(text[i:end])
			var probe map[string]json.RawMessage
			if json.Unmarshal(raw, &probe) == nil {
				return raw, true
			}
		}
		start = i + 1
	}
	return nil, false
}

// matchBraces returns the index just past the brace that balances the
// one at start, skipping braces inside JSON strings.
func matchBraces(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
