package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/extract"
)

func TestParseQuantity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10", 10, true},
		{"2.5", 2.5, true},
		{"2,5", 2.5, true},
		{"1/2", 0.5, true},
		{"3/4", 0.75, true},
		{"1 1/2", 1.5, true},
		{"five", 5, true},
		{"twenty", 20, true},
		{"a", 1, true},
		{"half", 0.5, true},
		{" Twelve ", 12, true},
		{"", 0, false},
		{"lots", 0, false},
		{"1/0", 0, false},
		{"x y", 0, false},
	}
	for _, c := range cases {
		got, ok := extract.ParseQuantity(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if c.ok {
			assert.InDelta(t, c.want, got, 1e-9, "input %q", c.in)
		}
	}
}

func TestNormalizeUnit(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"kg": "kg", "Kgs": "kg", "KILO": "kg", "kilogram": "kg",
		"g": "g", "gm": "g", "grams": "g",
		"l": "l", "litre": "l", "Liter": "l",
		"ml": "ml", "millilitre": "ml",
		"pc": "piece", "pcs": "piece", "pieces": "piece",
		"pack": "packet", "pkt": "packet",
		"doz": "dozen", "dozen": "dozen",
		"btl": "bottle", "boxes": "box",
		"sack": "", "": "", "units": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, extract.NormalizeUnit(in), "input %q", in)
	}
}

func TestCanonicalizeQuantity(t *testing.T) {
	t.Parallel()
	q, u := extract.CanonicalizeQuantity(500, "g")
	assert.Equal(t, 0.5, q)
	assert.Equal(t, "kg", u)

	q, u = extract.CanonicalizeQuantity(250, "ml")
	assert.Equal(t, 0.25, q)
	assert.Equal(t, "l", u)

	q, u = extract.CanonicalizeQuantity(3, "kg")
	assert.Equal(t, 3.0, q)
	assert.Equal(t, "kg", u)
}

func TestCleanName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "basmati rice", extract.CleanName("  basmati   rice , "))
	assert.Equal(t, "oil", extract.CleanName("*oil*"))
	assert.Equal(t, "", extract.CleanName(" ... "))
}

func TestCleaner_DropsContractViolations(t *testing.T) {
	t.Parallel()
	c := extract.NewCleaner(10000)
	items, dropped := c.Clean([]domain.RawItem{
		{Name: "Rice", Quantity: "10", Unit: "kg", Confidence: 0.9},
		{Name: "", Quantity: "2", Unit: "kg"},          // empty name
		{Name: "Oil", Quantity: "0", Unit: "l"},        // zero qty
		{Name: "Sugar", Quantity: "-3", Unit: "kg"},    // negative
		{Name: "Flour", Quantity: "99999", Unit: "kg"}, // above cap
		{Name: "Salt", Quantity: "huh", Unit: "kg"},    // unparsable
	})
	require.Len(t, items, 1)
	assert.Equal(t, 5, dropped)
	assert.Equal(t, "Rice", items[0].RawName)
	assert.Equal(t, "rice", items[0].NameKey)
}

func TestCleaner_DropsNonFiniteQuantities(t *testing.T) {
	t.Parallel()
	c := extract.NewCleaner(10000)
	items, dropped := c.Clean([]domain.RawItem{
		{Name: "Rice", Quantity: "nan", Unit: "kg", Confidence: 0.9},
		{Name: "Oil", Quantity: "inf", Unit: "l", Confidence: 0.9},
		{Name: "Sugar", Quantity: "inf/2", Unit: "kg", Confidence: 0.9},
		{Name: "Flour", Quantity: "2", Unit: "kg", Confidence: 0.9},
	})
	require.Len(t, items, 1)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, "Flour", items[0].RawName)
}

func TestCleaner_MergesDuplicates(t *testing.T) {
	t.Parallel()
	c := extract.NewCleaner(0)
	items, dropped := c.Clean([]domain.RawItem{
		{Name: "Rice", Quantity: "10", Unit: "kg", Confidence: 0.7},
		{Name: "rice ", Quantity: "500", Unit: "g", Confidence: 0.9}, // 0.5 kg after canonicalization
		{Name: "Oil", Quantity: "5", Unit: "l", Confidence: 0.8},
	})
	require.Len(t, items, 2)
	assert.Equal(t, 0, dropped)
	assert.InDelta(t, 10.5, items[0].Quantity, 1e-9)
	assert.Equal(t, 0.9, items[0].Confidence, "merged confidence is the max")
	assert.Equal(t, "kg", items[0].Unit)
	assert.Equal(t, "Oil", items[1].RawName)
}

func TestCleaner_ClampsConfidence(t *testing.T) {
	t.Parallel()
	c := extract.NewCleaner(0)
	items, _ := c.Clean([]domain.RawItem{
		{Name: "Rice", Quantity: "1", Confidence: 1.7},
		{Name: "Oil", Quantity: "1", Confidence: -0.2},
	})
	require.Len(t, items, 2)
	assert.Equal(t, 1.0, items[0].Confidence)
	assert.Equal(t, 0.0, items[1].Confidence)
}

func TestCleaner_UnknownUnitIsNull(t *testing.T) {
	t.Parallel()
	c := extract.NewCleaner(0)
	items, _ := c.Clean([]domain.RawItem{{Name: "Eggs", Quantity: "2", Unit: "tray", Confidence: 0.9}})
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Unit)
}
