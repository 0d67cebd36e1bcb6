package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func ptrString(s string) *string { return &s }
func ptrInt(i int) *int          { return &i }

func sampleRecord() TaskRecord {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return TaskRecord{
		ID:         "a1",
		ProjectID:  "P1",
		Origin:     OriginTemplate,
		TemplateID: ptrString("t1"),
		Text:       "Agree project scope",
		Stage:      StageDefinition,
		Status:     StatusPending,
		Notes:      ptrString("kick-off"),
		SortOrder:  ptrInt(2),
		CreatedAt:  &created,
		ETag:       "W/\"1\"",
	}
}

func TestOptionalUnmarshalTracksPresence(t *testing.T) {
	var p ExternalTaskPatch
	if err := sonic.Unmarshal([]byte(`{"text":"new","sortOrder":4,"completed":"true","bogus":1}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Text.Set || p.Text.Value != "new" {
		t.Fatalf("unexpected text: %#v", p.Text)
	}
	if !p.SortOrder.Set || p.SortOrder.Value != 4 {
		t.Fatalf("unexpected sortOrder: %#v", p.SortOrder)
	}
	if !p.Completed.Set || p.Completed.Value != "true" {
		t.Fatalf("unexpected completed: %#v", p.Completed)
	}
	if p.Notes.Set || p.Stage.Set {
		t.Fatalf("absent fields must stay unset: %#v", p)
	}
}

func TestOptionalUnmarshalNull(t *testing.T) {
	var p ExternalTaskPatch
	if err := json.Unmarshal([]byte(`{"notes":null}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Notes.Set || !p.Notes.Null {
		t.Fatalf("expected explicit null, got %#v", p.Notes)
	}
}

func TestApplySetsAndClearsColumns(t *testing.T) {
	rec := sampleRecord()
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	next, changed, err := rec.Apply(InternalTaskPatch{
		Set:       map[string]any{"text": "Agree scope", "sort_order": 5, "due_date": "2024-04-01"},
		Unset:     []string{"notes"},
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatalf("expected change")
	}
	if next.Text != "Agree scope" || next.SortOrder == nil || *next.SortOrder != 5 {
		t.Fatalf("unexpected record: %#v", next)
	}
	if next.DueDate == nil || *next.DueDate != "2024-04-01" {
		t.Fatalf("expected due date, got %v", next.DueDate)
	}
	if next.Notes != nil {
		t.Fatalf("expected notes cleared, got %q", *next.Notes)
	}
	if next.UpdatedAt == nil || !next.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at stamped, got %v", next.UpdatedAt)
	}
	if next.ID != rec.ID || next.ProjectID != rec.ProjectID || !next.HasTemplate("t1") || next.ETag != rec.ETag {
		t.Fatalf("identity fields must be preserved: %#v", next)
	}
}

func TestApplyNoChangeKeepsRecord(t *testing.T) {
	rec := sampleRecord()
	next, changed, err := rec.Apply(InternalTaskPatch{
		Set:       map[string]any{"text": rec.Text, "sort_order": 2},
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatalf("expected no change")
	}
	if next.UpdatedAt != nil {
		t.Fatalf("updated_at must not move on a no-op: %v", next.UpdatedAt)
	}
}

func TestApplyRejectsUnknownAndImmutableColumns(t *testing.T) {
	tests := map[string]InternalTaskPatch{
		"unknown":   {Set: map[string]any{"colour": "red"}},
		"id":        {Set: map[string]any{"id": "other"}},
		"projectId": {Unset: []string{"projectId"}},
	}
	for name, patch := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := sampleRecord().Apply(patch)
			var ce *ConstraintError
			if !errors.As(err, &ce) {
				t.Fatalf("expected constraint error, got %v", err)
			}
		})
	}
}

func TestApplyTypeMismatchNamesColumn(t *testing.T) {
	_, _, err := sampleRecord().Apply(InternalTaskPatch{Set: map[string]any{"sort_order": "high"}})
	var ce *ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected constraint error, got %v", err)
	}
	if ce.Column != "sort_order" {
		t.Fatalf("expected sort_order column, got %q", ce.Column)
	}
}

func TestCheckConstraints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TaskRecord)
		column string
	}{
		{name: "valid", mutate: func(*TaskRecord) {}},
		{name: "empty text", mutate: func(r *TaskRecord) { r.Text = "  " }, column: "text"},
		{name: "long text", mutate: func(r *TaskRecord) { r.Text = strings.Repeat("x", MaxTextLength+1) }, column: "text"},
		{name: "bad stage", mutate: func(r *TaskRecord) { r.Stage = "launch" }, column: "stage"},
		{name: "bad status", mutate: func(r *TaskRecord) { r.Status = "archived" }, column: "status"},
		{name: "done but open", mutate: func(r *TaskRecord) { r.Status = StatusDone }, column: "status"},
		{name: "bad priority", mutate: func(r *TaskRecord) { r.Priority = ptrString("urgent") }, column: "priority"},
		{name: "bad due date", mutate: func(r *TaskRecord) { r.DueDate = ptrString("next week") }, column: "due_date"},
		{name: "rfc3339 due date", mutate: func(r *TaskRecord) { r.DueDate = ptrString("2024-04-01T10:00:00Z") }},
		{name: "negative order", mutate: func(r *TaskRecord) { r.SortOrder = ptrInt(-1) }, column: "sort_order"},
		{name: "template without id", mutate: func(r *TaskRecord) { r.TemplateID = nil }, column: "templateId"},
		{name: "bad origin", mutate: func(r *TaskRecord) { r.Origin = "import" }, column: "origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(&rec)
			err := rec.CheckConstraints()
			if tt.column == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConstraintError
			if !errors.As(err, &ce) || ce.Column != tt.column {
				t.Fatalf("expected constraint on %s, got %v", tt.column, err)
			}
		})
	}
}

func TestIsColumn(t *testing.T) {
	for _, col := range []string{"id", "projectId", "templateId", "due_date", "sort_order", "task_notes", "updated_at"} {
		if !IsColumn(col) {
			t.Fatalf("expected %s to be a column", col)
		}
	}
	if IsColumn("ETag") || IsColumn("dueDate") {
		t.Fatalf("unexpected column match")
	}
}

func TestTransientErrorUnwraps(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := error(&TransientError{Op: "get", Err: base})
	if !IsTransient(err) || !errors.Is(err, base) {
		t.Fatalf("expected transient error wrapping base, got %v", err)
	}
	if IsTransient(ErrNotFound) {
		t.Fatalf("not found is not transient")
	}
}
