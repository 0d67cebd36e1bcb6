package resolve

import (
	"context"
	"strings"

	"checklist-api/domain"
	"checklist-api/identity"
)

// Finder is the read side of the task store. Every lookup is filtered by
// project at the query level. GetTask returns nil, nil for a missing key.
type Finder interface {
	GetTask(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error)
	FindByTemplate(ctx context.Context, scope domain.ProjectScope, templateID string) ([]domain.TaskRecord, error)
	FindByPrefix(ctx context.Context, scope domain.ProjectScope, prefix string) ([]domain.TaskRecord, error)
}

// Query is the input handed to every strategy.
type Query struct {
	ClientID   string
	Scope      domain.ProjectScope
	Normalized identity.NormalizedID
	// Canonical is false when the client id holds no canonical key.
	Canonical bool
}

// templateKeys lists the values compared against template ids, raw first.
// The derived key is only consulted when the raw id matches nothing.
func (q Query) templateKeys() []string {
	if q.Canonical && q.Normalized.Derived() && q.Normalized.Value != q.ClientID {
		return []string{q.ClientID, q.Normalized.Value}
	}
	return []string{q.ClientID}
}

// Strategy is one lookup step. It returns every candidate it found; the
// resolver decides between none, one and many.
type Strategy interface {
	Name() string
	TryResolve(ctx context.Context, q Query) ([]domain.TaskRecord, error)
}

// Strategy names, in resolution order.
const (
	StrategyExactID      = "exact_id"
	StrategyNormalizedID = "normalized_id"
	StrategyTemplateID   = "template_id"
	StrategyPrefix       = "prefix"
)

// DefaultStrategies returns the fixed resolution order.
func DefaultStrategies(f Finder) []Strategy {
	return []Strategy{
		exactID{f: f},
		normalizedID{f: f},
		templateID{f: f},
		prefix{f: f},
	}
}

type exactID struct{ f Finder }

func (exactID) Name() string { return StrategyExactID }

func (s exactID) TryResolve(ctx context.Context, q Query) ([]domain.TaskRecord, error) {
	return single(s.f.GetTask(ctx, q.Scope, q.ClientID))
}

type normalizedID struct{ f Finder }

func (normalizedID) Name() string { return StrategyNormalizedID }

func (s normalizedID) TryResolve(ctx context.Context, q Query) ([]domain.TaskRecord, error) {
	if !q.Canonical || q.Normalized.Value == q.ClientID {
		return nil, nil
	}
	return single(s.f.GetTask(ctx, q.Scope, q.Normalized.Value))
}

type templateID struct{ f Finder }

func (templateID) Name() string { return StrategyTemplateID }

func (s templateID) TryResolve(ctx context.Context, q Query) ([]domain.TaskRecord, error) {
	for _, key := range q.templateKeys() {
		recs, err := s.f.FindByTemplate(ctx, q.Scope, key)
		if err != nil {
			return nil, err
		}
		out := recs[:0:0]
		for _, r := range recs {
			if r.Origin == domain.OriginTemplate && r.HasTemplate(key) {
				out = append(out, r)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

type prefix struct{ f Finder }

func (prefix) Name() string { return StrategyPrefix }

func (s prefix) TryResolve(ctx context.Context, q Query) ([]domain.TaskRecord, error) {
	if !q.Canonical {
		return nil, nil
	}
	p := q.Normalized.Value
	recs, err := s.f.FindByPrefix(ctx, q.Scope, p)
	if err != nil {
		return nil, err
	}
	out := recs[:0:0]
	for _, r := range recs {
		if strings.HasPrefix(r.ID, p) || (r.TemplateID != nil && strings.HasPrefix(*r.TemplateID, p)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func single(rec *domain.TaskRecord, err error) ([]domain.TaskRecord, error) {
	if err != nil || rec == nil {
		return nil, err
	}
	return []domain.TaskRecord{*rec}, nil
}
