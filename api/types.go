package api

import (
	"context"

	"checklist-api/domain"
	"checklist-api/update"
)

// TaskService resolves and updates tasks for handlers.
type TaskService interface {
	Update(ctx context.Context, clientID string, scope domain.ProjectScope, patch domain.ExternalTaskPatch) (update.Result, error)
	Get(ctx context.Context, clientID string, scope domain.ProjectScope) (update.Result, error)
}

// Authenticator is implemented by types able to extract the caller from the
// Authorization header.
type Authenticator interface {
	Subject(header string) (string, error)
}
