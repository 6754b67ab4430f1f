package repository

import (
	"context"

	"vehiclestats/internal/model"
)

// StatisticsRepository persists detection outcomes. Records are immutable once
// inserted and are only ever removed all at once.
type StatisticsRepository interface {
	// Insert assigns an ID, stores the record and returns the ID.
	Insert(ctx context.Context, record *model.StatisticsRecord) (string, error)

	// ListRecent returns up to limit records, newest processed_at first.
	ListRecent(ctx context.Context, limit int) ([]model.StatisticsRecord, error)
	// GetByID returns model.ErrRecordNotFound on a miss.
	GetByID(ctx context.Context, id string) (*model.StatisticsRecord, error)
	Count(ctx context.Context) (int64, error)

	// DeleteAll removes every record and reports how many there were. It never
	// touches the filesystem.
	DeleteAll(ctx context.Context) (int64, error)
}
