package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pfrederiksen/bake-events/internal/event"
)

// maxDescription caps the description echoed by LogNotifier
const maxDescription = 200

// LogNotifier prints what would be announced without sending anything
type LogNotifier struct {
	out io.Writer
}

// NewLogNotifier creates a LogNotifier writing to w, or stdout when w is nil
func NewLogNotifier(w io.Writer) *LogNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &LogNotifier{out: w}
}

// Notify prints each event as a short announcement
func (n *LogNotifier) Notify(ctx context.Context, events []event.Stored) error {
	for i, evt := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(n.out, "--- Event %d/%d ---\n%s\n\n", i+1, len(events), formatEvent(evt)); err != nil {
			return fmt.Errorf("writing announcement: %w", err)
		}
	}
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// formatEvent renders an event as a few human readable lines
func formatEvent(evt event.Stored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📍 %s - %s\n", evt.PlaceName, evt.Title)
	fmt.Fprintf(&b, "📅 %s", evt.EventDate)
	if evt.Category != "" {
		fmt.Fprintf(&b, " · %s", evt.Category)
	}
	if evt.PriceText != "" {
		fmt.Fprintf(&b, " · %s", evt.PriceText)
	}
	if evt.Description != "" {
		desc := evt.Description
		if r := []rune(desc); len(r) > maxDescription {
			desc = string(r[:maxDescription-3]) + "..."
		}
		b.WriteString("\n" + desc)
	}
	return b.String()
}
