package update

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
	"checklist-api/resolve"
)

// EventPublisher receives an audit event after every write. Publishing must
// not block the request for long and its failures are not reported back.
type EventPublisher interface {
	Publish(ev domain.TaskUpdatedEvent)
}

// Result is what the pipeline hands back to the transport layer.
type Result struct {
	View     domain.ExternalTaskView
	Strategy string
	Changed  bool
	Fields   []string
}

// Pipeline wires the resolver, executor and projector together.
type Pipeline struct {
	resolver  *resolve.Resolver
	executor  *Executor
	projector *Projector
	events    EventPublisher
	now       func() time.Time
	log       log.FieldLogger
}

// NewPipeline returns a Pipeline. events may be nil.
func NewPipeline(resolver *resolve.Resolver, executor *Executor, projector *Projector, events EventPublisher, logger log.FieldLogger) *Pipeline {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Pipeline{
		resolver:  resolver,
		executor:  executor,
		projector: projector,
		events:    events,
		now:       time.Now,
		log:       logger,
	}
}

// Update resolves clientID inside scope, applies patch to the record found
// and returns its new external view.
func (p *Pipeline) Update(ctx context.Context, clientID string, scope domain.ProjectScope, patch domain.ExternalTaskPatch) (Result, error) {
	res, err := p.resolver.Resolve(ctx, clientID, scope)
	if err != nil {
		return Result{}, err
	}
	applied, err := p.executor.Apply(ctx, scope, res.Record, patch)
	if err != nil {
		return Result{Strategy: res.Strategy}, err
	}
	view, err := p.projector.Project(applied.Record, clientID)
	if err != nil {
		return Result{Strategy: res.Strategy}, err
	}
	if applied.Changed {
		p.publish(res, applied, clientID, scope)
	}
	return Result{View: view, Strategy: res.Strategy, Changed: applied.Changed, Fields: applied.Fields}, nil
}

// Get resolves clientID inside scope and returns the external view.
func (p *Pipeline) Get(ctx context.Context, clientID string, scope domain.ProjectScope) (Result, error) {
	res, err := p.resolver.Resolve(ctx, clientID, scope)
	if err != nil {
		return Result{}, err
	}
	view, err := p.projector.Project(res.Record, clientID)
	if err != nil {
		return Result{Strategy: res.Strategy}, err
	}
	return Result{View: view, Strategy: res.Strategy}, nil
}

func (p *Pipeline) publish(res resolve.Resolution, applied Applied, clientID string, scope domain.ProjectScope) {
	if p.events == nil {
		return
	}
	ts := p.now().UTC()
	if applied.Record.UpdatedAt != nil {
		ts = applied.Record.UpdatedAt.UTC()
	}
	p.events.Publish(domain.TaskUpdatedEvent{
		ID:         uuid.NewString(),
		ProjectID:  scope.String(),
		TaskID:     applied.Record.ID,
		ClientID:   clientID,
		Strategy:   res.Strategy,
		Normalized: res.Normalized.Value,
		Derived:    res.Normalized.Derived(),
		Fields:     applied.Fields,
		UpdatedAt:  ts,
	})
}
