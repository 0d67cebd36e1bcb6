package domain

import (
	"reflect"
	"strings"
	"time"
)

// Origin tells whether a task was authored by a user or cloned from a template.
type Origin string

const (
	OriginCustom   Origin = "custom"
	OriginTemplate Origin = "template"
)

// Stage is the lifecycle stage a checklist item belongs to.
type Stage string

const (
	StageIdentification Stage = "identification"
	StageDefinition     Stage = "definition"
	StageDelivery       Stage = "delivery"
	StageClosure        Stage = "closure"
)

// Stages lists the lifecycle in order. The first entry is the default stage.
var Stages = []Stage{StageIdentification, StageDefinition, StageDelivery, StageClosure}

// Status is the display state kept consistent with Completed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Priorities accepted for the priority column.
var Priorities = []string{"low", "medium", "high"}

// StatusFor returns the status paired with a completion flag.
func StatusFor(completed bool) Status {
	if completed {
		return StatusDone
	}
	return StatusPending
}

// ValidStage reports whether s is one of the lifecycle stages.
func ValidStage(s Stage) bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ValidOrigin reports whether o is a known origin.
func ValidOrigin(o Origin) bool {
	return o == OriginCustom || o == OriginTemplate
}

// ValidPriority reports whether p is an accepted priority.
func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// ProjectScope identifies the project every lookup and write is filtered by.
type ProjectScope string

// Valid reports whether the scope carries a usable project id.
func (p ProjectScope) Valid() bool {
	return strings.TrimSpace(string(p)) != ""
}

func (p ProjectScope) String() string { return string(p) }

// TaskRecord is the persisted checklist item. JSON names are the storage
// column names.
type TaskRecord struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"projectId"`
	Origin     Origin     `json:"origin"`
	TemplateID *string    `json:"templateId,omitempty"`
	Text       string     `json:"text"`
	Stage      Stage      `json:"stage,omitempty"`
	Completed  bool       `json:"completed"`
	Status     Status     `json:"status,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Priority   *string    `json:"priority,omitempty"`
	Owner      *string    `json:"owner,omitempty"`
	DueDate    *string    `json:"due_date,omitempty"`
	TaskType   *string    `json:"task_type,omitempty"`
	FactorID   *string    `json:"factor_id,omitempty"`
	SortOrder  *int       `json:"sort_order,omitempty"`
	AssignedTo *string    `json:"assigned_to,omitempty"`
	TaskNotes  *string    `json:"task_notes,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`

	// ETag is the store version the record was read at.
	ETag string `json:"-"`
}

// Deleted reports whether the record carries a tombstone.
func (t TaskRecord) Deleted() bool {
	return t.DeletedAt != nil
}

// HasTemplate reports whether the record is linked to templateID.
func (t TaskRecord) HasTemplate(templateID string) bool {
	return t.TemplateID != nil && *t.TemplateID == templateID
}

var recordColumns = func() map[string]struct{} {
	cols := map[string]struct{}{}
	rt := reflect.TypeOf(TaskRecord{})
	for i := 0; i < rt.NumField(); i++ {
		name, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		cols[name] = struct{}{}
	}
	return cols
}()

// IsColumn reports whether name is a storage column of TaskRecord.
func IsColumn(name string) bool {
	_, ok := recordColumns[name]
	return ok
}
