package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

const overridesPartition = "overrides"

type tableAPI interface {
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

func newOverridesTable(connStr, table string) (*aztables.Client, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return svc.NewClient(table), nil
}

// overrideEntity stores one override as JSON in the Data column so fields
// added by other tools survive.
type overrideEntity struct {
	aztables.Entity
	Data string `json:"Data"`
}

// loadTableOverrides lists every override entity. Entities that do not decode
// are logged and skipped.
func loadTableOverrides(ctx context.Context, table tableAPI, logger *log.Logger) (domain.Overrides, error) {
	filter := "PartitionKey eq '" + overridesPartition + "'"
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	overrides := domain.Overrides{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list overrides: %w", err)
		}
		for _, raw := range resp.Entities {
			id, o, err := decodeOverrideEntity(raw)
			if err != nil {
				logger.WithFields(log.Fields{"entity": id, "error": err}).Warn("Skipping corrupt override entity")
				continue
			}
			overrides[id] = o
		}
	}
	return overrides, nil
}

func decodeOverrideEntity(raw []byte) (string, domain.StatusOverride, error) {
	var ent overrideEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return "", domain.StatusOverride{}, fmt.Errorf("decode override entity: %w", err)
	}
	var o domain.StatusOverride
	if ent.Data != "" {
		if err := json.Unmarshal([]byte(ent.Data), &o); err != nil {
			return ent.RowKey, domain.StatusOverride{}, fmt.Errorf("decode override %s: %w", ent.RowKey, err)
		}
	}
	return ent.RowKey, o, nil
}

func putTableOverride(ctx context.Context, table tableAPI, id string, o domain.StatusOverride) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	ent := overrideEntity{
		Entity: aztables.Entity{PartitionKey: overridesPartition, RowKey: id},
		Data:   string(data),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("upsert override %s: %w", id, err)
	}
	return nil
}

func deleteTableOverride(ctx context.Context, table tableAPI, id string) error {
	_, err := table.DeleteEntity(ctx, overridesPartition, id, nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete override %s: %w", id, err)
	}
	return nil
}
