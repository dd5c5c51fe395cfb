// Package ocr provides the HTTP OCR provider client.
//
// The provider exposes a simple surface: PUT /ocr with the image bytes
// returns a JSON body of recognized lines with confidences. The client
// fronts every call with a shared rate-limit bucket and a circuit breaker
// so a provider outage sheds load fast instead of tying up workers.
package ocr

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

	"github.com/gabriel-vasile/mimetype"
	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/service/ratelimiter"
)

// LimiterKey is the shared rate-limit bucket for this provider.
const LimiterKey = "ocr"

// Client implements domain.OCRClient over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    ratelimiter.Limiter
}

// New constructs a Client. limiter may be nil.
func New(baseURL string, timeout time.Duration, limiter ratelimiter.Limiter) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ocr",
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
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    cb,
		limiter:    limiter,
	}
}

type ocrResponse struct {
	Lines []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"lines"`
}

// supportedImage reports whether the sniffed content type is one the
// provider accepts.
func supportedImage(mt *mimetype.MIME) bool {
	for _, ct := range []string{"image/png", "image/jpeg", "image/webp", "image/tiff", "application/pdf"} {
		if mt.Is(ct) {
			return true
		}
	}
	return false
}

// ExtractText sends the image to the provider and returns the recognized
// text. Unsupported or corrupt inputs map to ErrInvalidArgument; provider
// and transport failures map to ErrUnavailable so the queue retries them.
func (c *Client) ExtractText(ctx context.Context, data []byte) (domain.OCRResult, error) {
	if len(data) == 0 {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: empty input: %w", domain.ErrInvalidArgument)
	}
	mt := mimetype.Detect(data)
	if !supportedImage(mt) {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: unsupported content type %s: %w", mt.String(), domain.ErrInvalidArgument)
	}

	if err := ratelimiter.Acquire(ctx, c.limiter, LimiterKey); err != nil {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: %w", err)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.call(ctx, data, mt.String())
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: circuit open: %w", domain.ErrUnavailable)
		}
		return domain.OCRResult{}, err
	}
	return res.(domain.OCRResult), nil
}

func (c *Client) call(ctx context.Context, data []byte, contentType string) (domain.OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/ocr", bytes.NewReader(data))
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: %v: %w", err, domain.ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: provider rejected input (status %d): %w", resp.StatusCode, domain.ErrInvalidArgument)
	default:
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: provider status %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: %v: %w", err, domain.ErrUnavailable)
	}
	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.OCRResult{}, fmt.Errorf("op=ocr.extract: malformed provider response: %w", domain.ErrUnavailable)
	}

	var out domain.OCRResult
	var lines []string
	for _, l := range parsed.Lines {
		lines = append(lines, l.Text)
		out.LineConfidences = append(out.LineConfidences, l.Confidence)
	}
	out.Text = strings.Join(lines, "\n")
	return out, nil
}
