package extractor

// Message is the email handed to the extractor: the raw gmail payload
// reduced to the fields the analyzer prompt needs.
type Message struct {
	ID       string
	ThreadID string
	Subject  string
	Body     string
	From     string
	CC       []string
}

// RawExtraction is one event the model found in a message. Ephemeral:
// consumed by the candidate builder and discarded.
type RawExtraction struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DateText        string   `json:"date_text"`
	RecurrenceText  string   `json:"recurrence_text"`
	Location        string   `json:"location"`
	DurationMinutes int      `json:"duration_minutes"`
	Attendees       []string `json:"attendees"`
	Confidence      float64  `json:"confidence"`
}

// Result holds all extractions from a single message. An empty Events slice
// is a normal outcome: most mail mentions no event.
type Result struct {
	MessageID string
	ThreadID  string
	Events    []RawExtraction
}
