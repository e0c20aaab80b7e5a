package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/item"
)

// ListStagedInput contains parameters for the ListStaged operation.
type ListStagedInput struct {
	Status    string // optional filter, e.g. "pending"
	ProjectID string // optional filter
	SessionID string // optional filter
	Limit     int    // default: 20, max: 100
	Offset    int    // default: 0
}

// ListStagedOutput contains the result of the ListStaged operation.
type ListStagedOutput struct {
	Items      []item.Staged `json:"items"`
	Pagination Pagination    `json:"pagination"`
	Sort       string        `json:"sort"`
}

// ListStaged retrieves staged items with pagination, oldest first.
func ListStaged(ctx context.Context, store RecordStore, input ListStagedInput) (*ListStagedOutput, error) {
	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	filter := db.StagedFilter{
		Status:    strings.TrimSpace(input.Status),
		ProjectID: strings.TrimSpace(input.ProjectID),
		SessionID: strings.TrimSpace(input.SessionID),
	}
	items, total, err := store.ListStaged(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if items == nil {
		items = []item.Staged{}
	}

	return &ListStagedOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_asc",
	}, nil
}
