package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const icsTimeFormat = "20060102T150405Z"

// CalendarEvent is one appointment rendered as an iCalendar VEVENT.
type CalendarEvent struct {
	UID         string
	Start       time.Time
	Duration    time.Duration
	Summary     string
	Description string
	Organizer   string
	Attendee    string
	// Sequence increases on every reschedule so calendar clients replace
	// the earlier invite.
	Sequence int
	Stamp    time.Time
}

// EventUID returns the stable calendar UID of a booking's appointment.
func EventUID(bookingID uuid.UUID) string {
	return bookingID.String() + "@inkbook"
}

// RenderICS renders ev as a single-event VCALENDAR with CRLF line endings.
func RenderICS(ev CalendarEvent) []byte {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(fold(s))
		b.WriteString("\r\n")
	}

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:-//inkbook//service-booking//EN")
	line("CALSCALE:GREGORIAN")
	line("METHOD:REQUEST")
	line("BEGIN:VEVENT")
	line("UID:" + ev.UID)
	line("DTSTAMP:" + ev.Stamp.UTC().Format(icsTimeFormat))
	line("DTSTART:" + ev.Start.UTC().Format(icsTimeFormat))
	line("DTEND:" + ev.Start.Add(ev.Duration).UTC().Format(icsTimeFormat))
	line(fmt.Sprintf("SEQUENCE:%d", ev.Sequence))
	line("SUMMARY:" + escapeText(ev.Summary))
	if ev.Description != "" {
		line("DESCRIPTION:" + escapeText(ev.Description))
	}
	if ev.Organizer != "" {
		line("ORGANIZER:mailto:" + ev.Organizer)
	}
	if ev.Attendee != "" {
		line("ATTENDEE;ROLE=REQ-PARTICIPANT;RSVP=TRUE:mailto:" + ev.Attendee)
	}
	line("STATUS:CONFIRMED")
	line("END:VEVENT")
	line("END:VCALENDAR")
	return []byte(b.String())
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// fold splits content lines longer than 75 octets, continuing with a space.
func fold(s string) string {
	const limit = 75
	if len(s) <= limit {
		return s
	}
	var b strings.Builder
	width := 0
	for _, r := range s {
		n := len(string(r))
		if width+n > limit {
			b.WriteString("\r\n ")
			width = 1
		}
		b.WriteRune(r)
		width += n
	}
	return b.String()
}
