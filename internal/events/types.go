package events

import "time"

// BookingEventV1 is the payload of booking.created.v1 and booking.cancelled.v1.
// Local fields are clinic wall-clock renderings.
type BookingEventV1 struct {
	EventID         string    `json:"event_id"`
	BookingID       string    `json:"booking_id"`
	Center          string    `json:"center"`
	ClientName      string    `json:"client_name"`
	Phone           string    `json:"phone"`
	Category        string    `json:"category"`
	CategoryLabel   string    `json:"category_label"`
	SessionType     string    `json:"session_type"`
	SessionDuration int       `json:"session_duration"`
	Date            string    `json:"date"`
	DayOfWeek       string    `json:"day_of_week"`
	LocalStart      string    `json:"local_start"`
	LocalEnd        string    `json:"local_end"`
	Notes           string    `json:"notes,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
