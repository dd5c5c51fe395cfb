package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. An
// empty input means any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// jsonDecoderStrict builds a decoder that rejects unknown fields, so typoed
// payloads fail loudly instead of silently dropping data.
func jsonDecoderStrict(r *http.Request) *json.Decoder {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec
}
