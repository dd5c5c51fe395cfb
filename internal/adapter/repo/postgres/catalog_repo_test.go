package postgres_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

type countingCatalog struct {
	exactN   atomic.Int64
	patternN atomic.Int64
	fuzzyN   atomic.Int64
	products map[string]domain.Product
}

func (c *countingCatalog) FindExact(_ domain.Context, key string) (domain.Product, bool, error) {
	c.exactN.Add(1)
	p, ok := c.products[key]
	return p, ok, nil
}

func (c *countingCatalog) FindPattern(_ domain.Context, key string) (domain.PatternCandidate, bool, error) {
	c.patternN.Add(1)
	p, ok := c.products[key]
	return domain.PatternCandidate{Product: p, MatchLen: len(key), NameLen: len(p.CanonicalName)}, ok, nil
}

func (c *countingCatalog) FindFuzzy(_ domain.Context, key string, _ int) ([]domain.FuzzyCandidate, error) {
	c.fuzzyN.Add(1)
	if p, ok := c.products[key]; ok {
		return []domain.FuzzyCandidate{{Product: p, Similarity: 0.9}}, nil
	}
	return nil, nil
}

func TestFindPattern_AliasTokenSetsLengths(t *testing.T) {
	t.Parallel()
	pool := &poolStub{rows: []rowStub{{scan: func(dest ...any) error {
		*(dest[0].(*string)) = "p-7"
		*(dest[1].(*string)) = "Cumin Seeds"
		*(dest[2].(*[]string)) = []string{"jeera"}
		*(dest[3].(*string)) = "kg"
		*(dest[4].(*string)) = "spices"
		*(dest[5].(*string)) = "jeera"
		return nil
	}}}}
	repo := postgres.NewCatalogRepo(pool)

	c, ok, err := repo.FindPattern(context.Background(), "jeera powder")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p-7", c.Product.ID)
	assert.Equal(t, 5, c.NameLen, "length of the matched alias, not the canonical name")
	assert.Equal(t, 5, c.MatchLen)
}

func TestCachedCatalog_ServesExactFromCache(t *testing.T) {
	t.Parallel()
	inner := &countingCatalog{products: map[string]domain.Product{
		"rice": {ID: "p-1", CanonicalName: "Rice"},
	}}
	now := time.Now().UTC()
	cache := postgres.NewCachedCatalog(inner, time.Minute).WithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		p, ok, err := cache.FindExact(context.Background(), "rice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "p-1", p.ID)
	}
	assert.Equal(t, int64(1), inner.exactN.Load())

	now = now.Add(2 * time.Minute)
	_, _, err := cache.FindExact(context.Background(), "rice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.exactN.Load(), "expired entry refetches")
}

func TestCachedCatalog_CachesMisses(t *testing.T) {
	t.Parallel()
	inner := &countingCatalog{products: map[string]domain.Product{}}
	cache := postgres.NewCachedCatalog(inner, time.Minute)

	for i := 0; i < 3; i++ {
		_, ok, err := cache.FindExact(context.Background(), "unknown")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(1), inner.exactN.Load(), "a miss is cached like a hit")
}

func TestCachedCatalog_FuzzyBypassesCache(t *testing.T) {
	t.Parallel()
	inner := &countingCatalog{products: map[string]domain.Product{
		"rice": {ID: "p-1", CanonicalName: "Rice"},
	}}
	cache := postgres.NewCachedCatalog(inner, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := cache.FindFuzzy(context.Background(), "rice", 5)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.fuzzyN.Load())
}
