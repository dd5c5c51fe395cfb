// Package llm provides the structured line-item extractor backed by an
// OpenAI-compatible chat completions endpoint. The model is asked for a
// strict JSON document; a document that does not parse maps to
// ErrSchemaInvalid so the pipeline can count it against the attempt budget,
// while individual malformed records are dropped, never the whole document.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/service/ratelimiter"
)

// LimiterKey is the shared rate-limit bucket for this provider.
const LimiterKey = "extractor"

const systemPrompt = `You extract wholesale order line items from noisy OCR text.
Respond with a single JSON object: {"items":[{"name":string,"quantity":string,"unit":string,"confidence":number}]}.
Quantity is the raw token from the text. Confidence is your certainty in [0,1].
Output nothing except the JSON object.`

// Config holds the provider settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	InputBudget int // max prompt tokens for the OCR text; longer text is truncated
}

// Client implements domain.ItemExtractor.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    ratelimiter.Limiter
	encoding   *tiktoken.Tiktoken
}

// New constructs a Client. limiter may be nil.
func New(cfg Config, limiter ratelimiter.Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.InputBudget <= 0 {
		cfg.InputBudget = 6000
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	enc, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("token encoding unavailable, falling back to byte budget", slog.Any("error", err))
			enc = nil
		}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "extractor",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}, breaker: cb, limiter: limiter, encoding: enc}
}

// truncateToBudget trims text to the configured prompt token budget.
func (c *Client) truncateToBudget(text string) string {
	if c.encoding == nil {
		// Rough fallback: 4 bytes per token, cut on a rune boundary.
		max := c.cfg.InputBudget * 4
		if len(text) <= max {
			return text
		}
		for max > 0 && !utf8.RuneStart(text[max]) {
			max--
		}
		return text[:max]
	}
	toks := c.encoding.Encode(text, nil, nil)
	if len(toks) <= c.cfg.InputBudget {
		return text
	}
	slog.Warn("extraction input truncated",
		slog.Int("tokens", len(toks)),
		slog.Int("budget", c.cfg.InputBudget))
	return c.encoding.Decode(toks[:c.cfg.InputBudget])
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type itemsDoc struct {
	Items []json.RawMessage `json:"items"`
}

// ExtractItems asks the model for line items found in text.
func (c *Client) ExtractItems(ctx context.Context, text string) ([]domain.RawItem, error) {
	if err := ratelimiter.Acquire(ctx, c.limiter, LimiterKey); err != nil {
		return nil, fmt.Errorf("op=llm.extract: %w", err)
	}
	res, err := c.breaker.Execute(func() (any, error) {
		return c.call(ctx, c.truncateToBudget(text))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("op=llm.extract: circuit open: %w", domain.ErrUnavailable)
		}
		return nil, err
	}
	return res.([]domain.RawItem), nil
}

func (c *Client) call(ctx context.Context, text string) ([]domain.RawItem, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("op=llm.extract: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=llm.extract: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=llm.extract: %v: %w", err, domain.ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=llm.extract: provider status %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("op=llm.extract: %v: %w", err, domain.ErrUnavailable)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("op=llm.extract: malformed provider response: %w", domain.ErrUnavailable)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("op=llm.extract: empty completion: %w", domain.ErrSchemaInvalid)
	}

	content := stripCodeFence(parsed.Choices[0].Message.Content)
	var doc itemsDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("op=llm.extract: model output is not the expected schema: %w", domain.ErrSchemaInvalid)
	}
	if doc.Items == nil {
		return nil, fmt.Errorf("op=llm.extract: model output has no items array: %w", domain.ErrSchemaInvalid)
	}
	items := make([]domain.RawItem, 0, len(doc.Items))
	dropped := 0
	for _, raw := range doc.Items {
		it, ok := decodeItem(raw)
		if !ok {
			dropped++
			continue
		}
		items = append(items, it)
	}
	if dropped > 0 {
		slog.Warn("extraction records dropped", slog.Int("dropped", dropped))
	}
	return items, nil
}

// decodeItem parses one record tolerantly. Providers disagree on the type of
// quantity, so both JSON strings and numbers are accepted; a record whose
// fields carry unusable types is dropped on its own.
func decodeItem(raw json.RawMessage) (domain.RawItem, bool) {
	var w struct {
		Name       string          `json:"name"`
		Quantity   json.RawMessage `json:"quantity"`
		Unit       string          `json:"unit"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.RawItem{}, false
	}
	qty, ok := coerceQuantity(w.Quantity)
	if !ok {
		return domain.RawItem{}, false
	}
	return domain.RawItem{Name: w.Name, Quantity: qty, Unit: w.Unit, Confidence: w.Confidence}, true
}

func coerceQuantity(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true // the cleaner drops quantity-less records
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// stripCodeFence removes a markdown fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
