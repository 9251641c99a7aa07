package model

import "time"

// Event is a single concrete calendar occurrence inside the digest window,
// after recurrence expansion and conversion to the display timezone.
type Event struct {
	SourceID string // calendar source ID, derived from the feed URL
	Calendar string // X-WR-CALNAME of the feed, if it has one
	UID      string // iCalendar UID

	// InstanceKey distinguishes occurrences of one recurring UID.
	InstanceKey string

	Title       string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone. End is always
	// set; a missing DTEND is defaulted by the parser.
	Start time.Time
	End   time.Time
}

// Reminder is one task from the externally produced reminders snapshot.
type Reminder struct {
	Title    string
	List     string
	Priority string
	Notes    string

	// Due is nil for undated reminders.
	Due *time.Time
}

// HasDueTime reports whether Due carries a time of day rather than a bare date.
func (r Reminder) HasDueTime() bool {
	if r.Due == nil {
		return false
	}
	h, m, s := r.Due.Clock()
	return h != 0 || m != 0 || s != 0
}

// Weather is the current-conditions snapshot for the configured location.
type Weather struct {
	Location    string `json:"location"`
	Description string `json:"description"`

	Temperature int `json:"temperature"`
	FeelsLike   int `json:"feels_like"`
	Humidity    int `json:"humidity"`
	WindSpeed   int `json:"wind_speed"`

	// TempUnit / WindUnit are display suffixes such as "°F" and "mph".
	TempUnit string `json:"temp_unit"`
	WindUnit string `json:"wind_unit"`
}

type Quote struct {
	Text   string
	Author string

	// Fallback is true when the quote came from the built-in list.
	Fallback bool
}
