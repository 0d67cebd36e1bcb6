package domain

import "time"

// ExternalTaskView is the client-facing representation of a task.
type ExternalTaskView struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"clientId,omitempty"`
	ProjectID  string     `json:"projectId"`
	Text       string     `json:"text"`
	Stage      string     `json:"stage"`
	Origin     string     `json:"origin"`
	Notes      *string    `json:"notes,omitempty"`
	Priority   *string    `json:"priority,omitempty"`
	Owner      *string    `json:"owner,omitempty"`
	Status     string     `json:"status"`
	Completed  bool       `json:"completed"`
	SourceID   *string    `json:"sourceId,omitempty"`
	DueDate    *string    `json:"dueDate,omitempty"`
	TaskType   *string    `json:"taskType,omitempty"`
	FactorID   *string    `json:"factorId,omitempty"`
	SortOrder  *int       `json:"sortOrder,omitempty"`
	AssignedTo *string    `json:"assignedTo,omitempty"`
	TaskNotes  *string    `json:"taskNotes,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}
