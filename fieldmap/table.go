// Package fieldmap translates between client-facing task field names and
// storage column names. The table in this file is the only place the two
// naming schemes meet.
package fieldmap

import "checklist-api/domain"

type patchAccessor func(p *domain.ExternalTaskPatch) (value any, set, null bool)

type field struct {
	external string
	internal string
	// readOnly fields are recognized on input but never written.
	readOnly bool
	// optional fields turn "" into an explicit absence.
	optional bool
	// strictBool fields accept boolean-like input and store a bool.
	strictBool bool
	// dflt is substituted on output when the column is unset.
	dflt  func(r domain.TaskRecord) any
	patch patchAccessor
}

func str(get func(p *domain.ExternalTaskPatch) domain.Optional[string]) patchAccessor {
	return func(p *domain.ExternalTaskPatch) (any, bool, bool) {
		o := get(p)
		return o.Value, o.Set, o.Null
	}
}

var table = []field{
	{external: "id", internal: "id", readOnly: true},
	{external: "projectId", internal: "projectId", readOnly: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.ProjectID })},
	{external: "origin", internal: "origin", readOnly: true,
		dflt:  func(domain.TaskRecord) any { return string(domain.OriginCustom) },
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Origin })},
	{external: "sourceId", internal: "templateId", readOnly: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.SourceID })},
	{external: "text", internal: "text",
		dflt:  func(domain.TaskRecord) any { return "" },
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Text })},
	{external: "stage", internal: "stage",
		dflt:  func(domain.TaskRecord) any { return string(domain.Stages[0]) },
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Stage })},
	{external: "completed", internal: "completed", strictBool: true,
		dflt: func(domain.TaskRecord) any { return false },
		patch: func(p *domain.ExternalTaskPatch) (any, bool, bool) {
			return p.Completed.Value, p.Completed.Set, p.Completed.Null
		}},
	{external: "status", internal: "status",
		dflt:  func(r domain.TaskRecord) any { return string(domain.StatusFor(r.Completed)) },
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Status })},
	{external: "notes", internal: "notes", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Notes })},
	{external: "priority", internal: "priority", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Priority })},
	{external: "owner", internal: "owner", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.Owner })},
	{external: "dueDate", internal: "due_date", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.DueDate })},
	{external: "taskType", internal: "task_type", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.TaskType })},
	{external: "factorId", internal: "factor_id", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.FactorID })},
	{external: "sortOrder", internal: "sort_order",
		patch: func(p *domain.ExternalTaskPatch) (any, bool, bool) {
			return p.SortOrder.Value, p.SortOrder.Set, p.SortOrder.Null
		}},
	{external: "assignedTo", internal: "assigned_to", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.AssignedTo })},
	{external: "taskNotes", internal: "task_notes", optional: true,
		patch: str(func(p *domain.ExternalTaskPatch) domain.Optional[string] { return p.TaskNotes })},
	{external: "createdAt", internal: "created_at", readOnly: true},
	{external: "updatedAt", internal: "updated_at", readOnly: true},
}

var (
	byExternal = map[string]*field{}
	byInternal = map[string]*field{}
)

func init() {
	for i := range table {
		f := &table[i]
		byExternal[f.external] = f
		byInternal[f.internal] = f
	}
}

// Known reports whether name is a client-facing field name, compared exactly.
func Known(name string) bool {
	_, ok := byExternal[name]
	return ok
}

// ExternalName returns the client-facing name of a storage column.
func ExternalName(internal string) (string, bool) {
	f, ok := byInternal[internal]
	if !ok {
		return "", false
	}
	return f.external, true
}

// InternalName returns the storage column for a client-facing field name.
func InternalName(external string) (string, bool) {
	f, ok := byExternal[external]
	if !ok {
		return "", false
	}
	return f.internal, true
}
