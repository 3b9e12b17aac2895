// Package calendar renders stored events as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/bake-events/internal/event"
)

const (
	prodID    = "-//Bake Events//bake-events//EN"
	uidDomain = "bake-events"
	// maxLine is the RFC 5545 line limit in octets, excluding CRLF
	maxLine = 75
)

// GenerateICS renders events as one VCALENDAR with an all-day VEVENT each.
// Events with an unparseable date are skipped.
func GenerateICS(events []event.Stored, stamp time.Time) string {
	var ics strings.Builder
	_ = WriteICS(&ics, events, stamp)
	return ics.String()
}

// WriteICS is GenerateICS writing to w
func WriteICS(w io.Writer, events []event.Stored, stamp time.Time) error {
	lw := &lineWriter{w: w}

	lw.line("BEGIN:VCALENDAR")
	lw.line("VERSION:2.0")
	lw.line("PRODID:" + prodID)
	lw.line("CALSCALE:GREGORIAN")
	lw.line("METHOD:PUBLISH")

	for _, evt := range events {
		day, err := event.ParseDate(evt.EventDate)
		if err != nil {
			continue
		}
		writeEvent(lw, evt, day, stamp)
	}

	lw.line("END:VCALENDAR")
	return lw.err
}

func writeEvent(lw *lineWriter, evt event.Stored, day, stamp time.Time) {
	lw.line("BEGIN:VEVENT")
	lw.line(fmt.Sprintf("UID:%s@%s", evt.Fingerprint(), uidDomain))
	lw.line("DTSTAMP:" + formatICSTime(stamp))
	lw.line("DTSTART;VALUE=DATE:" + formatICSDate(day))
	lw.line("DTEND;VALUE=DATE:" + formatICSDate(day.AddDate(0, 0, 1)))
	lw.line("SUMMARY:" + escapeICS(evt.Title))

	if desc := description(evt); desc != "" {
		lw.line("DESCRIPTION:" + escapeICS(desc))
	}

	location := evt.PlaceName
	if evt.PostalCode != "" {
		location = fmt.Sprintf("%s, %s", evt.PlaceName, evt.PostalCode)
	}
	if location != "" {
		lw.line("LOCATION:" + escapeICS(location))
	}
	if evt.Category != "" {
		lw.line("CATEGORIES:" + escapeICS(evt.Category))
	}

	lw.line("STATUS:CONFIRMED")
	lw.line("TRANSP:TRANSPARENT")
	lw.line("END:VEVENT")
}

func description(evt event.Stored) string {
	var parts []string
	if evt.PriceText != "" {
		parts = append(parts, "Price: "+evt.PriceText)
	}
	if evt.Description != "" {
		parts = append(parts, evt.Description)
	}
	return strings.Join(parts, "\n\n")
}

// formatICSTime formats a time.Time as an iCalendar UTC datetime
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func formatICSDate(t time.Time) string {
	return t.Format("20060102")
}

// escapeICS escapes text values per RFC 5545
func escapeICS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// lineWriter writes CRLF terminated content lines, folding long ones. The
// first error sticks.
type lineWriter struct {
	w   io.Writer
	err error
}

func (lw *lineWriter) line(s string) {
	if lw.err != nil {
		return
	}
	_, lw.err = io.WriteString(lw.w, fold(s)+"\r\n")
}

// fold splits s into lines of at most maxLine octets without breaking a
// UTF-8 sequence. Continuation lines start with a single space.
func fold(s string) string {
	if len(s) <= maxLine {
		return s
	}

	var b strings.Builder
	limit := maxLine
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		b.WriteString(s[:cut])
		b.WriteString("\r\n ")
		s = s[cut:]
		// the leading space counts toward the next line
		limit = maxLine - 1
	}
	b.WriteString(s)
	return b.String()
}
