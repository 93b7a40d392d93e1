package booking

import "time"

// ClientInfo identifies the person who submitted the request. It is fixed at
// submission and is the target of every client notification.
type ClientInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// DesignRequest describes the work the client is asking for.
type DesignRequest struct {
	Description    string      `json:"description"`
	Placement      string      `json:"placement"`
	SizeCm         float64     `json:"size_cm"`
	ColorWork      bool        `json:"color_work"`
	PreferredDates []time.Time `json:"preferred_dates,omitempty"`
}

// Summary returns the short description shown on the public payment page.
func (d DesignRequest) Summary() string {
	const maxLen = 140
	summary := d.Description
	if d.Placement != "" {
		summary = summary + " (" + d.Placement + ")"
	}
	runes := []rune(summary)
	if len(runes) > maxLen {
		return string(runes[:maxLen-1]) + "…"
	}
	return summary
}

// CancelledBy records which party cancelled a booking.
type CancelledBy string

const (
	CancelledByStudio CancelledBy = "studio"
	CancelledByArtist CancelledBy = "artist"
	CancelledByClient CancelledBy = "client"
)

// IsValid returns true if the party is recognized.
func (c CancelledBy) IsValid() bool {
	switch c {
	case CancelledByStudio, CancelledByArtist, CancelledByClient:
		return true
	}
	return false
}
