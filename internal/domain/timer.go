package domain

// EventTimer is a recurring in-game event as published by the content API.
// It fires at every combination of Days and Times.
type EventTimer struct {
	Name        string `json:"name"`
	Map         string `json:"map,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`

	Days  []string `json:"days"`  // "Mon", "Tue", ...
	Times []string `json:"times"` // "HH:MM", 24-hour
}
