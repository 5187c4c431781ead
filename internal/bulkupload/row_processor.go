package bulkupload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/resource"
)

// RowProcessor creates or updates the resource described by one row
type RowProcessor struct {
	client    resource.Client
	keyFields []string
}

// NewRowProcessor creates a row processor matching rows on keyFields
func NewRowProcessor(client resource.Client, keyFields []string) *RowProcessor {
	return &RowProcessor{
		client:    client,
		keyFields: keyFields,
	}
}

// ProcessRow makes exactly one search call and at most one create or update call
func (p *RowProcessor) ProcessRow(ctx context.Context, row model.Row) model.Outcome {
	key, ok := model.BuildLookupKey(row, p.keyFields)
	if !ok {
		return model.Failure(row, model.ReasonInvalidRow,
			fmt.Sprintf("row is missing one of the lookup fields %v", p.keyFields))
	}

	matches, err := p.client.Search(ctx, key.Filters())
	if err != nil {
		slog.Debug("Lookup failed", "lookup_key", key.String(), "error", err)
		return model.Failure(row, model.ReasonLookupError, err.Error())
	}

	if len(matches) == 0 {
		created, err := p.client.Create(ctx, row)
		if err != nil {
			return model.Failure(row, model.ReasonDownstreamError, err.Error())
		}
		return model.Success(row, created.ID())
	}

	id := matches[0].ID()
	if id == "" {
		return model.Failure(row, model.ReasonLookupError,
			fmt.Sprintf("match for %s has no id", key.String()))
	}

	if _, err := p.client.Update(ctx, id, row); err != nil {
		return model.Failure(row, model.ReasonDownstreamError, err.Error())
	}
	return model.Success(row, id)
}
