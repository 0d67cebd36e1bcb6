package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"checklist-api/domain"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage is the Azure Tables task store. Tasks are partitioned by project
// id and keyed by task id.
type Storage struct {
	tasks tableClient
	audit queueClient
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, auditQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 10,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 2,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, auditQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{tasks: svc.NewClient(tasksTable), audit: aq}, nil
}

// GetTask returns the task stored under id in scope, or nil when there is
// none.
func (s *Storage) GetTask(ctx context.Context, scope domain.ProjectScope, id string) (*domain.TaskRecord, error) {
	if !scope.Valid() || !validKey(id) || !validKey(scope.String()) {
		return nil, nil
	}
	resp, err := s.tasks.GetEntity(ctx, scope.String(), id, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify("get task", err)
	}
	rec, err := decodeEntity(resp.Value, string(resp.ETag))
	if err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &rec, nil
}

// FindByTemplate lists template-origin tasks of scope cloned from templateID.
func (s *Storage) FindByTemplate(ctx context.Context, scope domain.ProjectScope, templateID string) ([]domain.TaskRecord, error) {
	if !scope.Valid() || templateID == "" {
		return nil, nil
	}
	return s.list(ctx, "find by template", templateFilter(scope, templateID))
}

// FindByPrefix lists tasks of scope whose id or template id starts with
// prefix.
func (s *Storage) FindByPrefix(ctx context.Context, scope domain.ProjectScope, prefix string) ([]domain.TaskRecord, error) {
	if !scope.Valid() || prefix == "" {
		return nil, nil
	}
	return s.list(ctx, "find by prefix", prefixFilter(scope, prefix))
}

func (s *Storage) list(ctx context.Context, op, filter string) ([]domain.TaskRecord, error) {
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []domain.TaskRecord
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, e := range resp.Entities {
			rec, err := decodeEntity(e, "")
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpdateTask replaces the stored row with rec if the row is still at
// rec.ETag. The returned record carries the new ETag.
func (s *Storage) UpdateTask(ctx context.Context, scope domain.ProjectScope, rec domain.TaskRecord) (domain.TaskRecord, error) {
	if rec.ProjectID != scope.String() {
		return domain.TaskRecord{}, fmt.Errorf("update task %s: %w", rec.ID, domain.ErrCrossProject)
	}
	if err := rec.CheckConstraints(); err != nil {
		return domain.TaskRecord{}, err
	}
	payload, err := encodeEntity(rec)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	etag := azcore.ETagAny
	if rec.ETag != "" {
		etag = azcore.ETag(rec.ETag)
	}
	resp, err := s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return domain.TaskRecord{}, classify("update task", err)
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

// EnqueueAudit sends a task-updated event to the audit queue.
func (s *Storage) EnqueueAudit(ctx context.Context, ev domain.TaskUpdatedEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.audit.EnqueueMessage(ctx, string(data), nil); err != nil {
		return classify("enqueue audit", err)
	}
	return nil
}
