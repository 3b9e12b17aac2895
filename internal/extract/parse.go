package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pfrederiksen/bake-events/internal/event"
)

// ErrNoArray means the response contained no well-formed JSON array
var ErrNoArray = errors.New("no JSON array in oracle response")

const candidateSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "title":         {"type": ["string", "null"]},
      "event_date":    {"type": ["string", "null"]},
      "category":      {"type": ["string", "null"]},
      "category_name": {"type": ["string", "null"]},
      "window_type":   {"type": ["string", "null"]},
      "price_text":    {"type": ["string", "number", "null"]},
      "description":   {"type": ["string", "null"]},
      "snippet":       {"type": ["string", "null"]},
      "location_hint": {"type": ["string", "null"]}
    }
  }
}`

var candidateSchema = jsonschema.MustCompileString("candidates.json", candidateSchemaJSON)

// rawCandidate accepts the legacy key names some model outputs still use
type rawCandidate struct {
	Title        *string         `json:"title"`
	EventDate    *string         `json:"event_date"`
	Category     *string         `json:"category"`
	CategoryName *string         `json:"category_name"`
	WindowType   *string         `json:"window_type"`
	PriceText    json.RawMessage `json:"price_text"`
	Description  *string         `json:"description"`
	Snippet      *string         `json:"snippet"`
	LocationHint *string         `json:"location_hint"`
}

// FindJSONArray returns the longest well-formed JSON array embedded in raw.
// Surrounding prose and code fences are ignored.
func FindJSONArray(raw string) (string, error) {
	best := ""
	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		if len(raw)-i <= len(best) {
			break
		}
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			continue
		}
		if len(msg) > len(best) {
			best = string(msg)
		}
	}
	if best == "" {
		return "", ErrNoArray
	}
	return best, nil
}

// ParseCandidates validates and decodes an oracle response. Any failure
// rejects the whole response.
func ParseCandidates(raw string) ([]event.Candidate, error) {
	arr, err := FindJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	dec := json.NewDecoder(strings.NewReader(arr))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding candidates: %w", err)
	}
	if err := candidateSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("candidate schema: %w", err)
	}

	var raws []rawCandidate
	if err := json.Unmarshal([]byte(arr), &raws); err != nil {
		return nil, fmt.Errorf("decoding candidates: %w", err)
	}

	out := make([]event.Candidate, 0, len(raws))
	for _, r := range raws {
		c := event.Candidate{
			Title:        str(r.Title),
			EventDate:    str(r.EventDate),
			Category:     firstNonEmpty(str(r.Category), str(r.CategoryName)),
			PriceText:    priceText(r.PriceText),
			Description:  firstNonEmpty(str(r.Description), str(r.Snippet)),
			LocationHint: str(r.LocationHint),
		}
		if w := str(r.WindowType); w != "" {
			c.WindowType, _ = event.ParseWindowType(w)
		}
		out = append(out, c)
	}
	return out, nil
}

// priceText accepts a string or a bare number
func priceText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if t := strings.TrimSpace(string(raw)); t != "null" {
		return t
	}
	return ""
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
