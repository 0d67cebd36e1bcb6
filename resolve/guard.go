package resolve

import (
	"fmt"

	"checklist-api/domain"
)

// AssertInScope fails with domain.ErrCrossProject when rec does not belong to
// the requested project.
func AssertInScope(rec domain.TaskRecord, scope domain.ProjectScope) error {
	if !scope.Valid() || rec.ProjectID != string(scope) {
		return fmt.Errorf("task %s in project %s, requested %s: %w", rec.ID, rec.ProjectID, scope, domain.ErrCrossProject)
	}
	return nil
}
