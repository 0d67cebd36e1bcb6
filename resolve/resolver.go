// Package resolve maps a client identifier and project scope to exactly one
// stored task.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
	"checklist-api/identity"
)

// Resolution is a successful lookup.
type Resolution struct {
	Record     domain.TaskRecord
	Strategy   string
	Normalized identity.NormalizedID
}

// Resolver runs its strategies in order and stops at the first unique hit.
type Resolver struct {
	strategies []Strategy
	log        log.FieldLogger
}

// New returns a resolver using the default strategy order.
func New(f Finder, logger log.FieldLogger) *Resolver {
	return NewWithStrategies(logger, DefaultStrategies(f)...)
}

// NewWithStrategies returns a resolver running the given strategies in order.
func NewWithStrategies(logger log.FieldLogger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Resolver{strategies: strategies, log: logger}
}

// Strategies returns the strategy names in resolution order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve finds the task clientID refers to inside scope. Records of other
// projects are never returned, whatever strategy surfaced them.
func (r *Resolver) Resolve(ctx context.Context, clientID string, scope domain.ProjectScope) (Resolution, error) {
	if clientID == "" || !scope.Valid() {
		return Resolution{}, domain.ErrNotFound
	}
	q := Query{ClientID: clientID, Scope: scope}
	if n, err := identity.Normalize(clientID); err == nil {
		q.Normalized = n
		q.Canonical = true
	}
	entry := r.log.WithFields(log.Fields{"client_id": clientID, "project_id": scope.String()})

	foreign := 0
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return Resolution{}, &domain.TransientError{Op: "resolve", Err: err}
		}
		found, err := s.TryResolve(ctx, q)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve %s: %w", s.Name(), err)
		}
		candidates, rejected := r.visible(found, scope)
		if rejected > 0 {
			foreign += rejected
			entry.WithFields(log.Fields{"strategy": s.Name(), "rejected": rejected}).Warn("resolve.cross_project_candidates")
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			entry.WithField("strategy", s.Name()).Debug("resolve.matched")
			return Resolution{Record: candidates[0], Strategy: s.Name(), Normalized: q.Normalized}, nil
		default:
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = c.ID
			}
			sort.Strings(ids)
			return Resolution{}, &domain.AmbiguousMatchError{ClientID: clientID, Strategy: s.Name(), Candidates: ids}
		}
	}
	if foreign > 0 {
		return Resolution{}, fmt.Errorf("resolve %q: %w", clientID, domain.ErrCrossProject)
	}
	return Resolution{}, domain.ErrNotFound
}

// visible drops deleted records, duplicates and anything outside scope.
func (r *Resolver) visible(recs []domain.TaskRecord, scope domain.ProjectScope) ([]domain.TaskRecord, int) {
	out := make([]domain.TaskRecord, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	rejected := 0
	for _, rec := range recs {
		if err := AssertInScope(rec, scope); err != nil {
			rejected++
			continue
		}
		if rec.Deleted() {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out, rejected
}

// IsNotFound reports whether err must be surfaced as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCrossProject)
}
