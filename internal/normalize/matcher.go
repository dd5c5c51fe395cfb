// Package normalize maps cleaned line items onto catalog products using
// three strategies in order: exact name/alias equality, substring/prefix
// pattern match, then trigram similarity. The first strategy clearing the
// configured threshold wins.
package normalize

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// fuzzyCandidateLimit bounds the trigram lookup fan-out.
const fuzzyCandidateLimit = 5

// Matcher normalizes items against a Catalog.
type Matcher struct {
	catalog   domain.Catalog
	threshold float64
}

// NewMatcher constructs a Matcher; threshold is the acceptance floor
// (MATCH_THRESHOLD, default 0.70 when zero).
func NewMatcher(catalog domain.Catalog, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.70
	}
	return &Matcher{catalog: catalog, threshold: threshold}
}

// Match resolves one extracted item. Items below the threshold come back
// with an empty product id and NeedsReview set.
func (m *Matcher) Match(ctx domain.Context, item domain.ExtractedItem) (domain.NormalizedItem, error) {
	tracer := otel.Tracer("normalize")
	ctx, span := tracer.Start(ctx, "normalize.Match")
	defer span.End()

	if p, ok, err := m.catalog.FindExact(ctx, item.NameKey); err != nil {
		return domain.NormalizedItem{}, fmt.Errorf("op=normalize.exact: %w", err)
	} else if ok {
		return domain.NormalizedItem{
			Extracted:       item,
			ProductID:       p.ID,
			MatchKind:       domain.MatchExact,
			MatchConfidence: 1.0,
		}, nil
	}

	if c, ok, err := m.catalog.FindPattern(ctx, item.NameKey); err != nil {
		return domain.NormalizedItem{}, fmt.Errorf("op=normalize.pattern: %w", err)
	} else if ok {
		conf := PatternConfidence(c.MatchLen, c.NameLen)
		if conf >= m.threshold {
			return domain.NormalizedItem{
				Extracted:       item,
				ProductID:       c.Product.ID,
				MatchKind:       domain.MatchPattern,
				MatchConfidence: conf,
			}, nil
		}
	}

	cands, err := m.catalog.FindFuzzy(ctx, item.NameKey, fuzzyCandidateLimit)
	if err != nil {
		return domain.NormalizedItem{}, fmt.Errorf("op=normalize.fuzzy: %w", err)
	}
	best := domain.FuzzyCandidate{}
	for _, c := range cands {
		if c.Similarity > best.Similarity {
			best = c
		}
	}
	if best.Similarity >= m.threshold {
		return domain.NormalizedItem{
			Extracted:       item,
			MatchKind:       domain.MatchFuzzy,
			ProductID:       best.Product.ID,
			MatchConfidence: best.Similarity,
		}, nil
	}

	return domain.NormalizedItem{
		Extracted:       item,
		MatchKind:       domain.MatchNone,
		MatchConfidence: best.Similarity,
		NeedsReview:     true,
	}, nil
}

// MatchAll resolves every item and reports the fraction needing review.
func (m *Matcher) MatchAll(ctx domain.Context, items []domain.ExtractedItem) ([]domain.NormalizedItem, float64, error) {
	out := make([]domain.NormalizedItem, 0, len(items))
	review := 0
	for _, it := range items {
		n, err := m.Match(ctx, it)
		if err != nil {
			return nil, 0, err
		}
		if n.NeedsReview {
			review++
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return out, 0, nil
	}
	return out, float64(review) / float64(len(out)), nil
}

// PatternConfidence scores a substring/prefix match:
// 0.8 + 0.2 * (matchLen / nameLen), capped at 1.0.
func PatternConfidence(matchLen, nameLen int) float64 {
	if nameLen <= 0 {
		return 0.8
	}
	c := 0.8 + 0.2*float64(matchLen)/float64(nameLen)
	if c > 1.0 {
		c = 1.0
	}
	return c
}
