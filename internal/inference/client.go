// Package inference talks to an external chat-completions service to
// produce reply suggestions and per-user mood analyses for the chat room.
//
// The service is optional. Every call is bounded by Config.Timeout and
// callers are expected to degrade to an empty result on any error.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("inference service not configured")
	// ErrRateLimited is returned when the service kept answering 429 after all retries.
	ErrRateLimited = errors.New("inference service rate limited")
	// ErrEmptyResponse is returned when the service answered without content.
	ErrEmptyResponse = errors.New("inference service returned no content")
)

const (
	suggestPrompt = "You generate candidate replies for a chat participant. " +
		"Cover different tones: polite question, apology with a proposed fix, follow-up, " +
		"asking for details, explaining next steps. Each reply is at most 40 characters. " +
		"Output only the replies, one per line, at most 8, without numbering or commentary. " +
		"Answer in the language of the input."

	analyzePrompt = "You read a chat transcript and infer the current emotion of each participant. " +
		`Answer with a JSON object {"analyses":[{"user":"","emotion":"","inference":"","suggested_reply":""}]} ` +
		"with one entry per participant and nothing else."
)

var sentenceBreak = regexp.MustCompile(`[。！？;；\n]+`)

// Line is one message of a transcript sent for analysis.
type Line struct {
	Author string
	Text   string
}

// UserAnalysis is the inferred state of one participant.
type UserAnalysis struct {
	User           string `json:"user"`
	Emotion        string `json:"emotion"`
	Inference      string `json:"inference"`
	SuggestedReply string `json:"suggested_reply"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client calls the remote service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client. A nil logger falls back to slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With(slog.String("component", "inference")),
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.key() != ""
}

// Suggest returns up to MaxSuggestions distinct candidate replies for text.
// Blank text yields no suggestions without contacting the service.
func (c *Client) Suggest(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	raw, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: suggestPrompt},
		{Role: "user", Content: fmt.Sprintf("Input: %q", text)},
	}, 0.8)
	if err != nil {
		return nil, err
	}
	return splitSuggestions(raw, c.cfg.MaxSuggestions), nil
}

// AnalyzeUsers infers the mood of every author in lines. An empty
// transcript yields no analyses without contacting the service.
func (c *Client) AnalyzeUsers(ctx context.Context, lines []Line) ([]UserAnalysis, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	transcript := strings.Join(lo.Map(lines, func(l Line, _ int) string {
		return l.Author + ": " + l.Text
	}), "\n")

	raw, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: analyzePrompt},
		{Role: "user", Content: transcript},
	}, 0.3)
	if err != nil {
		return nil, err
	}
	return parseAnalyses(raw)
}

// complete runs one chat completion within the configured timeout,
// retrying with exponential backoff while the service answers 429.
func (c *Client) complete(ctx context.Context, messages []chatMessage, temperature float64) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		content, retry, err := c.post(ctx, body)
		if err == nil {
			return content, nil
		}
		if !retry || attempt >= c.cfg.MaxRetries {
			return "", err
		}

		backoff := c.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		c.logger.Warn("rate limited, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxRetries),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait before retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// post performs one HTTP round trip. retry is true when the failure was a
// rate-limit answer.
func (c *Client) post(ctx context.Context, body []byte) (content string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.key())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("call inference service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("read inference response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("inference service answered %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded completionResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", false, fmt.Errorf("decode inference response: %w", err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", false, ErrEmptyResponse
	}
	return decoded.Choices[0].Message.Content, false, nil
}

// splitSuggestions turns free text into distinct non-empty lines, falling
// back to sentence punctuation when the text has no usable line breaks.
func splitSuggestions(raw string, limit int) []string {
	trim := func(parts []string) []string {
		return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
			p = strings.TrimSpace(p)
			return p, p != ""
		})
	}

	lines := trim(strings.Split(raw, "\n"))
	if len(lines) == 0 {
		lines = trim(sentenceBreak.Split(raw, -1))
	}

	lines = lo.Uniq(lines)
	if len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}

// parseAnalyses extracts the analyses object from the model output, which
// may wrap it in prose or a code fence.
func parseAnalyses(raw string) ([]UserAnalysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in analysis output")
	}

	var decoded struct {
		Analyses []UserAnalysis `json:"analyses"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("decode analysis output: %w", err)
	}
	return decoded.Analyses, nil
}
