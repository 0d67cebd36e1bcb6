package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Optional carries a patch field that may be absent, explicitly null, or set.
type Optional[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// UnmarshalJSON marks the field present. A JSON null is recorded as Null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		o.Null = true
		return nil
	}
	o.Null = false
	return sonic.Unmarshal(data, &o.Value)
}

// ExternalTaskPatch is the client-facing partial update. Each field is
// independently present or absent; names not listed here are ignored on decode.
type ExternalTaskPatch struct {
	Text       Optional[string] `json:"text"`
	Stage      Optional[string] `json:"stage"`
	Origin     Optional[string] `json:"origin"`
	Notes      Optional[string] `json:"notes"`
	Priority   Optional[string] `json:"priority"`
	Owner      Optional[string] `json:"owner"`
	Status     Optional[string] `json:"status"`
	Completed  Optional[any]    `json:"completed"`
	SourceID   Optional[string] `json:"sourceId"`
	ProjectID  Optional[string] `json:"projectId"`
	DueDate    Optional[string] `json:"dueDate"`
	TaskType   Optional[string] `json:"taskType"`
	FactorID   Optional[string] `json:"factorId"`
	SortOrder  Optional[int]    `json:"sortOrder"`
	AssignedTo Optional[string] `json:"assignedTo"`
	TaskNotes  Optional[string] `json:"taskNotes"`
}

// InternalTaskPatch is a patch expressed in storage column names.
type InternalTaskPatch struct {
	Set       map[string]any
	Unset     []string
	UpdatedAt time.Time
}

// Empty reports whether the patch touches no column.
func (p InternalTaskPatch) Empty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0
}

// Columns returns the touched column names in sorted order.
func (p InternalTaskPatch) Columns() []string {
	cols := make([]string, 0, len(p.Set)+len(p.Unset))
	for c := range p.Set {
		cols = append(cols, c)
	}
	cols = append(cols, p.Unset...)
	sort.Strings(cols)
	return cols
}

var immutableColumns = map[string]struct{}{
	"id":         {},
	"projectId":  {},
	"created_at": {},
	"updated_at": {},
	"deleted_at": {},
}

// Apply returns the record with the patch applied. changed is false when the
// patch leaves every column as it was, in which case UpdatedAt is not touched.
func (t TaskRecord) Apply(p InternalTaskPatch) (TaskRecord, bool, error) {
	for _, col := range p.Columns() {
		if !IsColumn(col) {
			return TaskRecord{}, false, &ConstraintError{Column: col, Reason: "unknown column"}
		}
		if _, ok := immutableColumns[col]; ok {
			return TaskRecord{}, false, &ConstraintError{Column: col, Reason: "column is immutable"}
		}
	}
	row, err := toRow(t)
	if err != nil {
		return TaskRecord{}, false, err
	}
	base, err := fromRow(row)
	if err != nil {
		return TaskRecord{}, false, err
	}
	for col, v := range p.Set {
		row[col] = v
	}
	for _, col := range p.Unset {
		delete(row, col)
	}
	next, err := fromRow(row)
	if err != nil {
		return TaskRecord{}, false, err
	}
	next.ETag = t.ETag
	base.ETag = t.ETag
	if reflect.DeepEqual(base, next) {
		return t, false, nil
	}
	if !p.UpdatedAt.IsZero() {
		ts := p.UpdatedAt.UTC()
		next.UpdatedAt = &ts
	}
	return next, true, nil
}

func toRow(t TaskRecord) (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	row := map[string]any{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func fromRow(row map[string]any) (TaskRecord, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return TaskRecord{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var t TaskRecord
	if err := dec.Decode(&t); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return TaskRecord{}, &ConstraintError{Column: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		var timeErr *time.ParseError
		if errors.As(err, &timeErr) {
			return TaskRecord{}, &ConstraintError{Reason: timeErr.Error()}
		}
		return TaskRecord{}, &ConstraintError{Reason: err.Error()}
	}
	return t, nil
}
