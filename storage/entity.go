package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"checklist-api/domain"
)

const (
	edmDateTime = "Edm.DateTime"
	edmInt32    = "Edm.Int32"
)

var dateTimeColumns = []string{"created_at", "updated_at", "deleted_at"}

// encodeEntity turns a record into a table entity keyed by project and id.
// The key columns are carried by PartitionKey and RowKey only.
func encodeEntity(rec domain.TaskRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	row := map[string]any{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	delete(row, "id")
	delete(row, "projectId")
	row["PartitionKey"] = rec.ProjectID
	row["RowKey"] = rec.ID
	for _, col := range dateTimeColumns {
		if _, ok := row[col]; ok {
			row[col+"@odata.type"] = edmDateTime
		}
	}
	if _, ok := row["sort_order"]; ok {
		row["sort_order@odata.type"] = edmInt32
	}
	return json.Marshal(row)
}

// decodeEntity reads a table entity back into a record. Metadata and
// columns the record does not know are ignored.
func decodeEntity(data []byte, etag string) (domain.TaskRecord, error) {
	row := map[string]any{}
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.TaskRecord{}, err
	}
	pk, _ := row["PartitionKey"].(string)
	rk, _ := row["RowKey"].(string)
	if pk == "" || rk == "" {
		return domain.TaskRecord{}, fmt.Errorf("entity without keys")
	}
	if etag == "" {
		etag, _ = row["odata.etag"].(string)
	}
	clean := make(map[string]any, len(row))
	for k, v := range row {
		if strings.Contains(k, "odata.") || k == "PartitionKey" || k == "RowKey" || k == "Timestamp" {
			continue
		}
		if !domain.IsColumn(k) {
			continue
		}
		clean[k] = v
	}
	clean["id"] = rk
	clean["projectId"] = pk
	data, err := json.Marshal(clean)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	var rec domain.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.TaskRecord{}, err
	}
	rec.ETag = etag
	return rec, nil
}
