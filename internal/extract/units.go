// Package extract applies the cleaning rules that turn loosely-typed
// provider records into persisted line items: name normalization, quantity
// parsing, unit canonicalization and duplicate merging.
package extract

import "strings"

// Canonical unit tokens.
const (
	UnitKG     = "kg"
	UnitG      = "g"
	UnitL      = "l"
	UnitML     = "ml"
	UnitPiece  = "piece"
	UnitPacket = "packet"
	UnitDozen  = "dozen"
	UnitBottle = "bottle"
	UnitBox    = "box"
)

// unitAliases is the fixed alias map; unknown tokens map to "".
var unitAliases = map[string]string{
	"kg": UnitKG, "kgs": UnitKG, "kilogram": UnitKG, "kilograms": UnitKG, "kilo": UnitKG, "kilos": UnitKG,
	"g": UnitG, "gm": UnitG, "gms": UnitG, "gram": UnitG, "grams": UnitG,
	"l": UnitL, "ltr": UnitL, "litre": UnitL, "litres": UnitL, "liter": UnitL, "liters": UnitL,
	"ml": UnitML, "millilitre": UnitML, "millilitres": UnitML, "milliliter": UnitML,
	"piece": UnitPiece, "pieces": UnitPiece, "pc": UnitPiece, "pcs": UnitPiece,
	"packet": UnitPacket, "packets": UnitPacket, "pack": UnitPacket, "packs": UnitPacket, "pkt": UnitPacket,
	"dozen": UnitDozen, "doz": UnitDozen,
	"bottle": UnitBottle, "bottles": UnitBottle, "btl": UnitBottle,
	"box": UnitBox, "boxes": UnitBox,
}

// NormalizeUnit maps a free-text unit token to its canonical form, or ""
// when unknown.
func NormalizeUnit(raw string) string {
	tok := strings.ToLower(strings.TrimSpace(raw))
	tok = strings.TrimSuffix(tok, ".")
	return unitAliases[tok]
}

// CanonicalizeQuantity converts gram-scale and ml-scale measures to their
// kg/l equivalents so stored quantities are uniform (500 g -> 0.5 kg).
func CanonicalizeQuantity(qty float64, unit string) (float64, string) {
	switch unit {
	case UnitG:
		return qty / 1000.0, UnitKG
	case UnitML:
		return qty / 1000.0, UnitL
	default:
		return qty, unit
	}
}
