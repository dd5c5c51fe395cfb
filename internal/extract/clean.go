package extract

import (
	"math"
	"strings"
	"unicode"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// Cleaner validates and normalizes raw extraction records. QuantityCap
// bounds accepted quantities (default 10^4 when zero).
type Cleaner struct {
	QuantityCap float64
}

// NewCleaner returns a Cleaner with the given cap; zero means the default.
func NewCleaner(cap float64) Cleaner {
	if cap <= 0 {
		cap = 10000
	}
	return Cleaner{QuantityCap: cap}
}

// Clean applies the cleaning rules to provider records. Records violating
// the contract are dropped (stage-soft for the record, not the artifact);
// the returned dropped count feeds the processing log. Surviving duplicates
// on (lowercased name, canonical unit) are merged by summing quantities and
// keeping the maximum confidence. Input order is preserved for first
// occurrences.
func (c Cleaner) Clean(raw []domain.RawItem) (items []domain.ExtractedItem, dropped int) {
	index := map[string]int{}
	for _, r := range raw {
		item, ok := c.cleanOne(r)
		if !ok {
			dropped++
			continue
		}
		key := item.NameKey + "\x00" + item.Unit
		if i, seen := index[key]; seen {
			items[i].Quantity += item.Quantity
			if item.Confidence > items[i].Confidence {
				items[i].Confidence = item.Confidence
			}
			continue
		}
		index[key] = len(items)
		items = append(items, item)
	}
	return items, dropped
}

func (c Cleaner) cleanOne(r domain.RawItem) (domain.ExtractedItem, bool) {
	name := CleanName(r.Name)
	if name == "" {
		return domain.ExtractedItem{}, false
	}
	qty, ok := ParseQuantity(r.Quantity)
	if !ok || math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 || qty > c.QuantityCap {
		return domain.ExtractedItem{}, false
	}
	unit := NormalizeUnit(r.Unit)
	qty, unit = CanonicalizeQuantity(qty, unit)
	conf := r.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return domain.ExtractedItem{
		RawName:    TitleCase(name),
		NameKey:    strings.ToLower(name),
		Quantity:   qty,
		Unit:       unit,
		Confidence: conf,
	}, true
}

// CleanName trims, collapses internal whitespace and strips surrounding
// punctuation.
func CleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}

// TitleCase upper-cases the first letter of each word; the display form of
// an item name. Matching always uses the lowercased key, never this.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
