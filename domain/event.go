package domain

import "time"

// Changed fields.
const (
	ChangeStatus      = "status"
	ChangeStatusReset = "status_reset"
	ChangeNotes       = "notes"
	ChangeActions     = "coordinator_actions"
)

// ChangeEvent describes one portal edit. It is published to the change feed.
type ChangeEvent struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Field     string    `json:"field"`
	Value     string    `json:"value,omitempty"`
	Editor    string    `json:"editor"`
	Timestamp time.Time `json:"timestamp"`
}
