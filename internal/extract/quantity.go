package extract

import (
	"strconv"
	"strings"
)

var spelledNumbers = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	"a": 1, "an": 1, "half": 0.5, "quarter": 0.25,
}

// ParseQuantity accepts an integer, decimal, simple fraction (a/b or "1 1/2")
// or spelled number up to twenty. Returns ok=false when the token does not
// parse; range checks are the caller's concern.
func ParseQuantity(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")

	if v, ok := spelledNumbers[s]; ok {
		return v, true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	// mixed number: "1 1/2"
	if parts := strings.Fields(s); len(parts) == 2 {
		whole, ok1 := ParseQuantity(parts[0])
		frac, ok2 := parseFraction(parts[1])
		if ok1 && ok2 {
			return whole + frac, true
		}
		return 0, false
	}
	return parseFraction(s)
}

func parseFraction(s string) (float64, bool) {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return 0, false
	}
	n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
	d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}
