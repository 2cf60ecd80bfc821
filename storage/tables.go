package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// TableStore is a Repository backed by an Azure Storage table. The collection
// name doubles as the partition key so every document of one entity type
// shares a partition; the document id is the RowKey.
type TableStore struct {
	table      *aztables.Client
	collection string
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, table, collection string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table), collection: collection}, nil
}

func (t *TableStore) Insert(ctx context.Context, doc Document) (string, error) {
	id := uuid.NewString()
	data, err := encodeEntity(t.collection, id, doc)
	if err != nil {
		return "", err
	}
	if _, err := t.table.AddEntity(ctx, data, nil); err != nil {
		return "", err
	}
	return id, nil
}

func (t *TableStore) FindByID(ctx context.Context, id string) (Document, error) {
	resp, err := t.table.GetEntity(ctx, t.collection, id, nil)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEntity(resp.Value)
}

func (t *TableStore) FindWhere(ctx context.Context, filter map[string]string) ([]Document, error) {
	odata := "PartitionKey eq '" + t.collection + "'"
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &odata})
	out := []Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			doc, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			if matches(doc, filter) {
				out = append(out, doc)
			}
		}
	}
	return out, nil
}

func (t *TableStore) UpdateByID(ctx context.Context, id string, partial Document) (Document, error) {
	doc, err := t.FindByID(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	data, err := encodeEntity(t.collection, id, doc)
	if err != nil {
		return nil, err
	}
	mode := aztables.UpdateModeReplace
	if _, err := t.table.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: mode}); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

func (t *TableStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	_, err := t.table.DeleteEntity(ctx, t.collection, id, nil)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func encodeEntity(partition, id string, doc Document) ([]byte, error) {
	ent := make(map[string]any, len(doc)+3)
	for k, v := range doc {
		if k == "id" {
			continue
		}
		ent[k] = v
	}
	ent["PartitionKey"] = partition
	ent["RowKey"] = id
	return sonic.Marshal(ent)
}

// decodeEntity turns a raw table entity back into a Document, dropping the
// table bookkeeping properties and restoring the id from the RowKey.
func decodeEntity(raw []byte) (Document, error) {
	var ent map[string]any
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return nil, err
	}
	doc := make(Document, len(ent))
	for k, v := range ent {
		if k == "PartitionKey" || k == "RowKey" || k == "Timestamp" {
			continue
		}
		if strings.HasPrefix(k, "odata.") || strings.HasSuffix(k, "@odata.type") {
			continue
		}
		doc[k] = v
	}
	if rk, ok := ent["RowKey"].(string); ok {
		doc["id"] = rk
	}
	return doc, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
