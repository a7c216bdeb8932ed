package llm

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

	"planwise/internal/apperr"
	"planwise/internal/config"
)

// Client talks to one OpenAI-compatible chat endpoint.
type Client struct {
	model   string
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a chat client for a configured model endpoint.
func NewClient(mc config.ModelConfig, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		model:   mc.Name,
		url:     mc.URL,
		apiKey:  apiKey,
		timeout: timeout,
		// Timeout comes from the per-call context so cancellation wins.
		http: &http.Client{},
	}
}

// Complete sends a prompt and returns the raw text response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt, nil)
}

// CompleteJSON sends a prompt in strict JSON-object mode and unmarshals the
// first JSON object in the response into target.
func (c *Client) CompleteJSON(ctx context.Context, prompt string, target interface{}) error {
	raw, err := c.call(ctx, prompt, &respFormat{Type: "json_object"})
	if err != nil {
		return err
	}
	obj := ExtractJSONObject(raw)
	if obj == "" {
		return apperr.Newf(apperr.KindUpstreamUnavailable, "model %s returned no JSON object", c.model)
	}
	if err := json.Unmarshal([]byte(obj), target); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "model response is not valid JSON", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, prompt string, format *respFormat) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.2,
		ResponseFormat: format,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindTimeout, "LLM call timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "LLM request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "failed to read LLM response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperr.Newf(apperr.KindFatalUpstream, "LLM credential rejected (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", apperr.Newf(apperr.KindUpstreamUnavailable, "LLM returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	default:
		return "", apperr.Newf(apperr.KindFatalUpstream, "LLM returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "failed to decode LLM response", err)
	}
	if parsed.Error != nil {
		if parsed.Error.Code == "invalid_grant" {
			return "", apperr.Newf(apperr.KindFatalUpstream, "LLM error: %s", parsed.Error.Message)
		}
		return "", apperr.Newf(apperr.KindUpstreamUnavailable, "LLM error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.KindUpstreamUnavailable, "LLM returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ExtractJSONObject pulls the first balanced {...} substring out of a model
// response, tolerating markdown fences and prose around it. LLM persistence
// sometimes hands back stringified JSON; normalizing here keeps callers clean.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
