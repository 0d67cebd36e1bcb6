package domain

import "time"

// TaskUpdatedEvent is the audit record published after a successful write.
// Fields holds the external names of the touched fields.
type TaskUpdatedEvent struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	TaskID     string    `json:"taskId"`
	ClientID   string    `json:"clientId"`
	Strategy   string    `json:"strategy"`
	Normalized string    `json:"normalized,omitempty"`
	Derived    bool      `json:"derived"`
	Fields     []string  `json:"fields"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
