package llm

import (
	"context"
	"strings"
	"unicode"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// Stub is a deterministic extractor for local development. Each non-empty
// line becomes one item; a trailing numeric token with an optional unit
// suffix is treated as the quantity.
type Stub struct{}

// NewStub constructs a Stub.
func NewStub() *Stub { return &Stub{} }

// ExtractItems parses "Name Qty[Unit]" lines.
func (s *Stub) ExtractItems(_ context.Context, text string) ([]domain.RawItem, error) {
	var items []domain.RawItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		item := domain.RawItem{Name: line, Quantity: "1", Confidence: 0.9}
		if len(fields) > 1 {
			last := fields[len(fields)-1]
			if qty, unit, ok := splitQtyToken(last); ok {
				item.Name = strings.Join(fields[:len(fields)-1], " ")
				item.Quantity = qty
				item.Unit = unit
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// splitQtyToken splits "10kg" into ("10", "kg", true).
func splitQtyToken(tok string) (string, string, bool) {
	i := 0
	for i < len(tok) && (unicode.IsDigit(rune(tok[i])) || tok[i] == '.' || tok[i] == ',') {
		i++
	}
	if i == 0 {
		return "", "", false
	}
	return tok[:i], strings.ToLower(tok[i:]), true
}
