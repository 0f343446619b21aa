package models

// Stats is a point-in-time snapshot derived from the event log and process clock.
type Stats struct {
	MessageCount int    `json:"messageCount"`
	Uptime       string `json:"uptime"`
	ActiveChats  int    `json:"activeChats"`
	Status       string `json:"status"`
}
