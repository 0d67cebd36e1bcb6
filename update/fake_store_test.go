package update

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"checklist-api/domain"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]domain.TaskRecord
	etag  int

	// conflicts makes the next n writes fail as if another writer got there
	// first; concurrent is applied to the stored row each time.
	conflicts  int
	concurrent func(*domain.TaskRecord)
	updateErr  error
	writes     []domain.TaskRecord
}

func newFakeStore(recs ...domain.TaskRecord) *fakeStore {
	f := &fakeStore{tasks: map[string]domain.TaskRecord{}}
	for _, r := range recs {
		r.ETag = f.nextETag()
		f.tasks[r.ID] = r
	}
	return f
}

func (f *fakeStore) nextETag() string {
	f.etag++
	return "W/\"" + strconv.Itoa(f.etag) + "\""
}

func (f *fakeStore) GetTask(_ context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tasks[id]
	if !ok || rec.ProjectID != string(scope) {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) FindByTemplate(_ context.Context, scope domain.ProjectScope, templateID string) ([]domain.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TaskRecord
	for _, r := range f.tasks {
		if r.ProjectID == string(scope) && r.HasTemplate(templateID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByPrefix(_ context.Context, scope domain.ProjectScope, prefix string) ([]domain.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TaskRecord
	for _, r := range f.tasks {
		if r.ProjectID == string(scope) && strings.HasPrefix(r.ID, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, scope domain.ProjectScope, rec domain.TaskRecord) (domain.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return domain.TaskRecord{}, f.updateErr
	}
	stored, ok := f.tasks[rec.ID]
	if !ok || stored.ProjectID != string(scope) {
		return domain.TaskRecord{}, domain.ErrGone
	}
	if f.conflicts > 0 {
		f.conflicts--
		if f.concurrent != nil {
			f.concurrent(&stored)
		}
		stored.ETag = f.nextETag()
		f.tasks[rec.ID] = stored
		return domain.TaskRecord{}, domain.ErrConcurrencyConflict
	}
	if rec.ETag != stored.ETag {
		return domain.TaskRecord{}, domain.ErrConcurrencyConflict
	}
	if err := rec.CheckConstraints(); err != nil {
		return domain.TaskRecord{}, err
	}
	rec.ETag = f.nextETag()
	f.tasks[rec.ID] = rec
	f.writes = append(f.writes, rec)
	return rec, nil
}

func (f *fakeStore) get(id string) domain.TaskRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TaskUpdatedEvent
}

func (p *recordingPublisher) Publish(ev domain.TaskUpdatedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}
