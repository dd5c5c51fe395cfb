package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newClient(baseURL string) *Client {
	return New(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: time.Second,
	}, nil)
}

func TestExtractItems_ParsesModelOutput(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, `{"items":[{"name":"Rice","quantity":"10","unit":"kg","confidence":0.92}]}`, http.StatusOK)
	defer srv.Close()

	items, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice 10kg")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Rice", items[0].Name)
	assert.Equal(t, "10", items[0].Quantity)
	assert.Equal(t, "kg", items[0].Unit)
}

func TestExtractItems_StripsCodeFence(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, "```json\n{\"items\":[{\"name\":\"Oil\",\"quantity\":\"5\",\"unit\":\"l\",\"confidence\":0.8}]}\n```", http.StatusOK)
	defer srv.Close()

	items, err := newClient(srv.URL).ExtractItems(context.Background(), "Oil 5L")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Oil", items[0].Name)
}

func TestExtractItems_CoercesNumericQuantity(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, `{"items":[
		{"name":"Rice","quantity":5,"unit":"kg","confidence":0.9},
		{"name":"Oil","quantity":"2.5","unit":"l","confidence":0.8},
		{"name":"Sugar","quantity":null,"unit":"kg","confidence":0.7}
	]}`, http.StatusOK)
	defer srv.Close()

	items, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice 5kg Oil 2.5L Sugar")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "5", items[0].Quantity)
	assert.Equal(t, "2.5", items[1].Quantity)
	assert.Equal(t, "", items[2].Quantity)
}

func TestExtractItems_DropsOnlyMalformedRecords(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, `{"items":[
		{"name":"Rice","quantity":{"amount":5},"unit":"kg","confidence":0.9},
		{"name":42,"quantity":"1","unit":"kg","confidence":0.9},
		{"name":"Oil","quantity":"5","unit":"l","confidence":0.8}
	]}`, http.StatusOK)
	defer srv.Close()

	items, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice Oil")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Oil", items[0].Name)
}

func TestExtractItems_MalformedOutputIsSchemaInvalid(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, `Sorry, I cannot help with that.`, http.StatusOK)
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice 10kg")
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestExtractItems_UnexpectedFieldsAreSchemaInvalid(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, `{"products":[{"name":"Rice"}]}`, http.StatusOK)
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice 10kg")
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestExtractItems_ProviderOutageIsUnavailable(t *testing.T) {
	t.Parallel()
	srv := chatServer(t, "", http.StatusServiceUnavailable)
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractItems(context.Background(), "Rice 10kg")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestTruncateToBudget(t *testing.T) {
	t.Parallel()
	c := New(Config{Model: "gpt-4o-mini", InputBudget: 10}, nil)
	long := ""
	for i := 0; i < 200; i++ {
		long += "wholesale order line "
	}
	short := c.truncateToBudget(long)
	assert.Less(t, len(short), len(long))

	assert.Equal(t, "tiny", c.truncateToBudget("tiny"))
}

func TestTruncateToBudget_ByteFallbackKeepsValidUTF8(t *testing.T) {
	t.Parallel()
	c := New(Config{Model: "gpt-4o-mini", InputBudget: 1}, nil)
	c.encoding = nil // force the byte fallback

	long := strings.Repeat("日本語テキスト", 20)
	short := c.truncateToBudget(long)
	assert.Less(t, len(short), len(long))
	assert.True(t, utf8.ValidString(short))
}

type drainedLimiter struct{ retryAfter time.Duration }

func (d drainedLimiter) Allow(_ context.Context, _ string, _ int64) (bool, time.Duration, error) {
	return false, d.retryAfter, nil
}

func TestExtractItems_RateLimitedSurfacesTypedError(t *testing.T) {
	t.Parallel()
	c := New(Config{
		BaseURL: "http://provider.invalid",
		Model:   "gpt-4o-mini",
		Timeout: time.Second,
	}, drainedLimiter{retryAfter: 30 * time.Second})

	_, err := c.ExtractItems(context.Background(), "Rice 10kg")
	var rl *domain.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	assert.Equal(t, LimiterKey, rl.Key)
}

func TestStub_ParsesQuantityTokens(t *testing.T) {
	t.Parallel()
	items, err := NewStub().ExtractItems(context.Background(), "Rice 10kg\nOil 5L\n\nSugar 2kg")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Rice", items[0].Name)
	assert.Equal(t, "10", items[0].Quantity)
	assert.Equal(t, "kg", items[0].Unit)
	assert.Equal(t, "l", items[1].Unit)
}
