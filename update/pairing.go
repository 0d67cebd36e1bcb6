package update

import (
	"checklist-api/domain"
	"checklist-api/fieldmap"
)

// pairStatus keeps completed and status in step. A present completed flag
// decides the status unless the caller also sent a status; a status sent on
// its own decides completed. Invalid completed values are left for the
// mapper to reject.
func pairStatus(p domain.ExternalTaskPatch) domain.ExternalTaskPatch {
	if p.Completed.Set && !p.Completed.Null {
		done, err := fieldmap.CoerceBool(p.Completed.Value)
		if err != nil {
			return p
		}
		if !p.Status.Set || p.Status.Null || p.Status.Value == "" {
			p.Status = domain.Some(string(domain.StatusFor(done)))
		}
		return p
	}
	if !p.Completed.Set && p.Status.Set && !p.Status.Null && p.Status.Value != "" {
		p.Completed = domain.Some[any](p.Status.Value == string(domain.StatusDone))
	}
	return p
}
