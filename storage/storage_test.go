package storage

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"checklist-api/domain"
)

func ptrString(s string) *string { return &s }
func ptrInt(i int) *int          { return &i }

type fakeTable struct {
	mu       sync.Mutex
	entities map[string][]byte
	etags    map[string]string
	getErr   error
	pages    [][][]byte
	listErr  error
	filters  []string
	updated  [][]byte
	options  []aztables.UpdateEntityOptions
	updErr   error
	getCalls int
}

func newFakeTable() *fakeTable {
	return &fakeTable{entities: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeTable) put(t *testing.T, rec domain.TaskRecord, etag string) {
	t.Helper()
	data, err := encodeEntity(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.entities[rec.ProjectID+"/"+rec.ID] = data
	f.etags[rec.ProjectID+"/"+rec.ID] = etag
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return aztables.GetEntityResponse{}, f.getErr
	}
	data, ok := f.entities[pk+"/"+rk]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: 404, ErrorCode: "ResourceNotFound"}
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(f.etags[pk+"/"+rk]), Value: data}, nil
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, entity)
	if o != nil {
		f.options = append(f.options, *o)
	}
	if f.updErr != nil {
		return aztables.UpdateEntityResponse{}, f.updErr
	}
	return aztables.UpdateEntityResponse{ETag: azcore.ETag("W/\"next\"")}, nil
}

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	if o != nil && o.Filter != nil {
		f.filters = append(f.filters, *o.Filter)
	}
	pages, listErr := f.pages, f.listErr
	f.mu.Unlock()
	i := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return i < len(pages) },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if listErr != nil {
				return aztables.ListEntitiesResponse{}, listErr
			}
			if len(pages) == 0 {
				return aztables.ListEntitiesResponse{}, nil
			}
			page := pages[i]
			i++
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func sampleRecord() domain.TaskRecord {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return domain.TaskRecord{
		ID:         "a1",
		ProjectID:  "P1",
		Origin:     domain.OriginTemplate,
		TemplateID: ptrString("t1"),
		Text:       "Agree scope",
		Stage:      domain.StageDefinition,
		Status:     domain.StatusPending,
		SortOrder:  ptrInt(2),
		DueDate:    ptrString("2024-07-01"),
		CreatedAt:  &created,
	}
}

func TestEncodeEntityKeysAndTypes(t *testing.T) {
	data, err := encodeEntity(sampleRecord())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row["PartitionKey"] != "P1" || row["RowKey"] != "a1" {
		t.Fatalf("unexpected keys: %v", row)
	}
	if _, ok := row["id"]; ok {
		t.Fatalf("id must only be carried by RowKey")
	}
	if row["created_at@odata.type"] != edmDateTime || row["sort_order@odata.type"] != edmInt32 {
		t.Fatalf("missing type annotations: %v", row)
	}
	if _, ok := row["updated_at@odata.type"]; ok {
		t.Fatalf("annotation for unset column: %v", row)
	}
}

func TestDecodeEntityRoundTrip(t *testing.T) {
	rec := sampleRecord()
	data, err := encodeEntity(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeEntity(data, "W/\"1\"")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec.ETag = "W/\"1\""
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", got, rec)
	}
}

func TestDecodeEntityIgnoresMetadata(t *testing.T) {
	data := []byte(`{"odata.etag":"W/\"7\"","PartitionKey":"P1","RowKey":"c1","Timestamp":"2024-01-01T00:00:00Z",` +
		`"text":"Draft","origin":"custom","completed":true,"status":"done","legacy_flag":"x",` +
		`"created_at@odata.type":"Edm.DateTime","created_at":"2024-01-01T00:00:00Z"}`)
	rec, err := decodeEntity(data, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "c1" || rec.ProjectID != "P1" || rec.ETag != "W/\"7\"" || !rec.Completed || rec.CreatedAt == nil {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if _, err := decodeEntity([]byte(`{"text":"x"}`), ""); err == nil {
		t.Fatalf("expected error for entity without keys")
	}
}

func TestFilters(t *testing.T) {
	if got := templateFilter("P'1", "t1"); got != "PartitionKey eq 'P''1' and templateId eq 't1' and origin eq 'template'" {
		t.Fatalf("unexpected template filter: %s", got)
	}
	got := prefixFilter("P1", "ab")
	want := "PartitionKey eq 'P1' and ((RowKey ge 'ab' and RowKey lt 'ac') or (templateId ge 'ab' and templateId lt 'ac'))"
	if got != want {
		t.Fatalf("unexpected prefix filter:\n got  %s\n want %s", got, want)
	}
	if upperBound("a-f") != "a-g" {
		t.Fatalf("unexpected upper bound: %q", upperBound("a-f"))
	}
	for _, k := range []string{"", "a/b", "a#b", "a?b", "a\\b"} {
		if validKey(k) {
			t.Fatalf("key %q must be rejected", k)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", &azcore.ResponseError{StatusCode: 404}, func(e error) bool { return errors.Is(e, domain.ErrGone) }},
		{"precondition", &azcore.ResponseError{StatusCode: 412}, func(e error) bool { return errors.Is(e, domain.ErrConcurrencyConflict) }},
		{"bad request", &azcore.ResponseError{StatusCode: 400, ErrorCode: "PropertyValueTooLarge"}, func(e error) bool {
			var ce *domain.ConstraintError
			return errors.As(e, &ce) && ce.Reason == "PropertyValueTooLarge"
		}},
		{"throttled", &azcore.ResponseError{StatusCode: 429}, domain.IsTransient},
		{"unavailable", &azcore.ResponseError{StatusCode: 503}, domain.IsTransient},
		{"deadline", context.DeadlineExceeded, domain.IsTransient},
		{"forbidden", &azcore.ResponseError{StatusCode: 403}, func(e error) bool { return !domain.IsTransient(e) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify("op", tt.err); !tt.check(got) {
				t.Fatalf("unexpected classification: %v", got)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestGetTask(t *testing.T) {
	tbl := newFakeTable()
	tbl.put(t, sampleRecord(), "W/\"3\"")
	s := &Storage{tasks: tbl}
	ctx := context.Background()

	rec, err := s.GetTask(ctx, "P1", "a1")
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if rec.ETag != "W/\"3\"" || rec.ID != "a1" {
		t.Fatalf("unexpected record: %#v", rec)
	}

	rec, err = s.GetTask(ctx, "P2", "a1")
	if err != nil || rec != nil {
		t.Fatalf("expected nil for other partition, got %v %v", rec, err)
	}

	calls := tbl.getCalls
	if rec, err := s.GetTask(ctx, "P1", "a/1"); rec != nil || err != nil {
		t.Fatalf("expected nil for invalid key, got %v %v", rec, err)
	}
	if tbl.getCalls != calls {
		t.Fatalf("invalid key reached the store")
	}

	tbl.getErr = &azcore.ResponseError{StatusCode: 503}
	if _, err := s.GetTask(ctx, "P1", "a1"); !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFindByTemplateQueriesPartition(t *testing.T) {
	tbl := newFakeTable()
	one, _ := encodeEntity(sampleRecord())
	second := sampleRecord()
	second.ID = "a2"
	two, _ := encodeEntity(second)
	tbl.pages = [][][]byte{{one}, {two}}
	s := &Storage{tasks: tbl}

	recs, err := s.FindByTemplate(context.Background(), "P1", "t1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a1" || recs[1].ID != "a2" {
		t.Fatalf("unexpected records: %#v", recs)
	}
	if len(tbl.filters) != 1 || !strings.HasPrefix(tbl.filters[0], "PartitionKey eq 'P1'") {
		t.Fatalf("query not scoped to partition: %v", tbl.filters)
	}
}

func TestFindByPrefixTransient(t *testing.T) {
	tbl := newFakeTable()
	tbl.pages = [][][]byte{{}}
	tbl.listErr = &azcore.ResponseError{StatusCode: 500}
	s := &Storage{tasks: tbl}
	if _, err := s.FindByPrefix(context.Background(), "P1", "abc"); !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestUpdateTaskConditionalReplace(t *testing.T) {
	tbl := newFakeTable()
	s := &Storage{tasks: tbl}
	rec := sampleRecord()
	rec.ETag = "W/\"3\""

	saved, err := s.UpdateTask(context.Background(), "P1", rec)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.ETag != "W/\"next\"" {
		t.Fatalf("expected new etag, got %q", saved.ETag)
	}
	opts := tbl.options[0]
	if opts.IfMatch == nil || *opts.IfMatch != azcore.ETag("W/\"3\"") || opts.UpdateMode != aztables.UpdateModeReplace {
		t.Fatalf("unexpected update options: %#v", opts)
	}
}

func TestUpdateTaskErrors(t *testing.T) {
	rec := sampleRecord()
	rec.ETag = "W/\"3\""
	ctx := context.Background()

	tbl := newFakeTable()
	s := &Storage{tasks: tbl}
	tbl.updErr = &azcore.ResponseError{StatusCode: 412}
	if _, err := s.UpdateTask(ctx, "P1", rec); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	tbl.updErr = &azcore.ResponseError{StatusCode: 404}
	if _, err := s.UpdateTask(ctx, "P1", rec); !errors.Is(err, domain.ErrGone) {
		t.Fatalf("expected gone, got %v", err)
	}

	tbl = newFakeTable()
	s = &Storage{tasks: tbl}
	if _, err := s.UpdateTask(ctx, "P2", rec); !errors.Is(err, domain.ErrCrossProject) {
		t.Fatalf("expected cross project error, got %v", err)
	}
	bad := rec
	bad.Text = ""
	var ce *domain.ConstraintError
	if _, err := s.UpdateTask(ctx, "P1", bad); !errors.As(err, &ce) || ce.Column != "text" {
		t.Fatalf("expected text constraint, got %v", err)
	}
	if len(tbl.updated) != 0 {
		t.Fatalf("rejected rows must not reach the store")
	}
}

func TestEnqueueAudit(t *testing.T) {
	q := &fakeQueue{}
	s := &Storage{audit: q}
	ev := domain.TaskUpdatedEvent{ID: "e1", ProjectID: "P1", TaskID: "a1", ClientID: "t1", Strategy: "template_id", Fields: []string{"owner"}}
	if err := s.EnqueueAudit(context.Background(), ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var got domain.TaskUpdatedEvent
	if err := sonic.UnmarshalString(q.messages[0], &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("unexpected message: %#v", got)
	}

	q.err = &azcore.ResponseError{StatusCode: 503}
	if err := s.EnqueueAudit(context.Background(), ev); !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
