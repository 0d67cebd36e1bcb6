package update

import (
	"checklist-api/domain"
	"checklist-api/fieldmap"
)

// Projector builds the view returned to clients.
type Projector struct {
	mapper *fieldmap.Mapper
}

func NewProjector(mapper *fieldmap.Mapper) *Projector {
	if mapper == nil {
		mapper = fieldmap.New()
	}
	return &Projector{mapper: mapper}
}

// Project returns the external view of rec. The view id is always the stored
// key so a follow-up request resolves by exact match; the identifier the
// caller sent is echoed as clientId when it differs.
func (p *Projector) Project(rec domain.TaskRecord, clientID string) (domain.ExternalTaskView, error) {
	view, err := p.mapper.ToExternal(rec)
	if err != nil {
		return domain.ExternalTaskView{}, err
	}
	view.ID = rec.ID
	view.ProjectID = rec.ProjectID
	view.ClientID = ""
	if clientID != "" && clientID != rec.ID {
		view.ClientID = clientID
	}
	return view, nil
}
