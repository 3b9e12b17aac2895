package extract

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultCategories are offered to the oracle when the request names none
var DefaultCategories = []string{"Science", "Art", "Outdoor", "Play", "Animals"}

// PromptData fills the extraction prompt
type PromptData struct {
	PlaceName  string
	PostalCode string
	Today      time.Time
	Categories []string
}

var promptTemplate = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"quoteList": quoteList,
}).Parse(`Today is {{.Today.Format "Monday, January 2, 2006"}}.
Find upcoming events for children and families at {{.PlaceName}}{{if .PostalCode}} (postal code {{.PostalCode}}){{end}}.

Return ONLY a JSON array. Each element is an object with these keys:
- "title": the event name
- "event_date": the date as YYYY-MM-DD; assume {{.Today.Year}} when the page omits the year
- "category": one of [{{quoteList .Categories}}]
- "window_type": "Recurring" for small programs that repeat often, "Periodic" for mid-size events, "OneTime" for festivals and large exhibits
- "price_text": the price exactly as the page states it, for example "$12" or "Free"; empty when not stated
- "description": one sentence
- "location_hint": the branch or site named for the event, empty when the page names none

Rules:
1. Exclude events without a specific day and month.
2. Exclude events marked adults only or 21+.
3. Every event_date must be a real calendar date.
4. Return [] when there are no qualifying events.
`))

// RenderPrompt renders the extraction prompt
func RenderPrompt(d PromptData) (string, error) {
	if len(d.Categories) == 0 {
		d.Categories = DefaultCategories
	}
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
