// Package update applies client patches to resolved tasks and projects the
// result back to the caller.
package update

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
	"checklist-api/fieldmap"
	"checklist-api/resolve"
)

// Store is the part of the task store the executor writes through.
// UpdateTask replaces the row keyed by rec.ID inside scope, conditional on
// rec.ETag, and returns the row as stored. It fails with
// domain.ErrConcurrencyConflict when the ETag is stale and domain.ErrGone when
// the row no longer exists.
type Store interface {
	GetTask(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error)
	UpdateTask(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord) (domain.TaskRecord, error)
}

// DefaultConflictRetries bounds how often a write is re-attempted after a
// concurrent change.
const DefaultConflictRetries = 3

// Applied is the outcome of a successful Apply.
type Applied struct {
	Record domain.TaskRecord
	// Changed is false when the patch matched the stored row and nothing was
	// written.
	Changed bool
	// Fields are the external names of the fields the patch touched.
	Fields []string
}

// Executor performs conditional writes keyed by the authoritative task id.
type Executor struct {
	store   Store
	mapper  *fieldmap.Mapper
	retries int
	log     log.FieldLogger
}

// NewExecutor returns an Executor. A negative retries value falls back to
// DefaultConflictRetries.
func NewExecutor(store Store, mapper *fieldmap.Mapper, retries int, logger log.FieldLogger) *Executor {
	if mapper == nil {
		mapper = fieldmap.New()
	}
	if retries < 0 {
		retries = DefaultConflictRetries
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Executor{store: store, mapper: mapper, retries: retries, log: logger}
}

// Apply maps patch and writes it to rec. Applying the same patch twice leaves
// the row as the first call did.
func (e *Executor) Apply(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord, patch domain.ExternalTaskPatch) (Applied, error) {
	if err := resolve.AssertInScope(rec, scope); err != nil {
		return Applied{}, err
	}
	internal, err := e.mapper.ToInternal(pairStatus(patch))
	if err != nil {
		var fe *fieldmap.FieldError
		if errors.As(err, &fe) {
			return Applied{}, &domain.UpdateError{Kind: domain.UpdateInvalid, Field: fe.Field, Err: err}
		}
		return Applied{}, err
	}
	fields := externalNames(internal.Columns())
	entry := e.log.WithFields(log.Fields{"task_id": rec.ID, "project_id": scope.String()})

	cur := rec
	for attempt := 0; ; attempt++ {
		next, changed, err := cur.Apply(internal)
		if err != nil {
			return Applied{}, invalid(err)
		}
		if !changed {
			entry.Debug("update.noop")
			return Applied{Record: cur, Fields: fields}, nil
		}
		if err := next.CheckConstraints(); err != nil {
			return Applied{}, invalid(err)
		}
		saved, err := e.store.UpdateTask(ctx, scope, next)
		switch {
		case err == nil:
			if err := resolve.AssertInScope(saved, scope); err != nil {
				return Applied{}, err
			}
			entry.WithField("fields", fields).Info("update.applied")
			return Applied{Record: saved, Changed: true, Fields: fields}, nil
		case errors.Is(err, domain.ErrConcurrencyConflict):
			if attempt >= e.retries {
				entry.WithField("attempts", attempt+1).Warn("update.conflict_retries_exhausted")
				return Applied{}, &domain.TransientError{Op: "update", Err: err}
			}
			entry.WithField("attempt", attempt+1).Debug("update.conflict_retry")
			fresh, err := e.store.GetTask(ctx, scope, rec.ID)
			if err != nil {
				return Applied{}, err
			}
			if fresh == nil || fresh.Deleted() {
				return Applied{}, gone(rec.ID)
			}
			if err := resolve.AssertInScope(*fresh, scope); err != nil {
				return Applied{}, err
			}
			cur = *fresh
		case errors.Is(err, domain.ErrGone):
			return Applied{}, &domain.UpdateError{Kind: domain.UpdateGone, Err: err}
		default:
			var ce *domain.ConstraintError
			if errors.As(err, &ce) {
				return Applied{}, invalid(err)
			}
			return Applied{}, err
		}
	}
}

func gone(id string) error {
	return &domain.UpdateError{Kind: domain.UpdateGone, Err: fmt.Errorf("task %s: %w", id, domain.ErrGone)}
}

// invalid turns a constraint failure into an UpdateError naming the external
// field.
func invalid(err error) error {
	ue := &domain.UpdateError{Kind: domain.UpdateInvalid, Err: err}
	var ce *domain.ConstraintError
	if errors.As(err, &ce) && ce.Column != "" {
		if name, ok := fieldmap.ExternalName(ce.Column); ok {
			ue.Field = name
			ue.Err = errors.New(ce.Reason)
		}
	}
	return ue
}

func externalNames(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if name, ok := fieldmap.ExternalName(c); ok {
			out = append(out, name)
		}
	}
	return out
}
