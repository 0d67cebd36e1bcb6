package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength bounds the text column.
const MaxTextLength = 1024

// CheckConstraints validates the row the store is about to persist.
func (t TaskRecord) CheckConstraints() error {
	if strings.TrimSpace(t.Text) == "" {
		return &ConstraintError{Column: "text", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(t.Text) > MaxTextLength {
		return &ConstraintError{Column: "text", Reason: "too long"}
	}
	if !ValidOrigin(t.Origin) {
		return &ConstraintError{Column: "origin", Reason: "unknown origin " + string(t.Origin)}
	}
	if t.Origin == OriginTemplate && (t.TemplateID == nil || *t.TemplateID == "") {
		return &ConstraintError{Column: "templateId", Reason: "template task without template id"}
	}
	if t.Stage != "" && !ValidStage(t.Stage) {
		return &ConstraintError{Column: "stage", Reason: "unknown stage " + string(t.Stage)}
	}
	if t.Status != "" && !ValidStatus(t.Status) {
		return &ConstraintError{Column: "status", Reason: "unknown status " + string(t.Status)}
	}
	if t.Completed != (t.Status == StatusDone) && t.Status != "" {
		return &ConstraintError{Column: "status", Reason: "status disagrees with completed"}
	}
	if t.Priority != nil && !ValidPriority(*t.Priority) {
		return &ConstraintError{Column: "priority", Reason: "unknown priority " + *t.Priority}
	}
	if t.DueDate != nil && !validDate(*t.DueDate) {
		return &ConstraintError{Column: "due_date", Reason: "expected YYYY-MM-DD or RFC 3339"}
	}
	if t.SortOrder != nil && *t.SortOrder < 0 {
		return &ConstraintError{Column: "sort_order", Reason: "must not be negative"}
	}
	return nil
}

func validDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}
