package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
	"vehiclestats/internal/requestctx"
)

const (
	queryInsertStatistics = `
		INSERT INTO vehicle_statistics (id, filename, file_type, motorbikes, cars, trucks, processed_at, output_path, metadata)
		VALUES (:id, :filename, :file_type, :motorbikes, :cars, :trucks, :processed_at, :output_path, :metadata)`

	queryListRecentStatistics = `
		SELECT id, filename, file_type, motorbikes, cars, trucks, processed_at, output_path, metadata
		FROM vehicle_statistics
		ORDER BY processed_at DESC, id DESC
		LIMIT :limit`

	queryGetStatisticsByID = `
		SELECT id, filename, file_type, motorbikes, cars, trucks, processed_at, output_path, metadata
		FROM vehicle_statistics
		WHERE id = :id`
)

type statisticsDB struct {
	ID          string         `db:"id"`
	Filename    string         `db:"filename"`
	FileType    string         `db:"file_type"`
	Motorbikes  int            `db:"motorbikes"`
	Cars        int            `db:"cars"`
	Trucks      int            `db:"trucks"`
	ProcessedAt int64          `db:"processed_at"`
	OutputPath  string         `db:"output_path"`
	Metadata    sql.NullString `db:"metadata"`
}

// StatisticsRepository implements repository.StatisticsRepository for SQLite.
type StatisticsRepository struct {
	db     *DB
	logger *logger.Logger

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewStatisticsRepository creates a new SQLite statistics repository.
func NewStatisticsRepository(db *DB, log *logger.Logger) *StatisticsRepository {
	if log == nil {
		log = logger.NewNop()
	}
	return &StatisticsRepository{
		db:      db,
		logger:  log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (r *StatisticsRepository) newID(t time.Time) (string, error) {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), r.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Insert assigns a ULID, stores the record and returns the ID. A zero
// ProcessedAt is set to the current time.
func (r *StatisticsRepository) Insert(ctx context.Context, record *model.StatisticsRecord) (string, error) {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}

	id, err := r.newID(record.ProcessedAt)
	if err != nil {
		return "", fmt.Errorf("failed to generate record id: %w", err)
	}

	row, err := makeStatisticsDB(record)
	if err != nil {
		return "", err
	}
	row.ID = id

	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().NamedExecContext(ctx, queryInsertStatistics, row); err != nil {
		r.logger.WithFields(logger.Fields{
			"request_id": requestctx.GetRequestID(ctx),
			"filename":   record.Filename,
		}).Error("Insert statistics failed: %v", err)
		return "", fmt.Errorf("failed to insert statistics: %w", err)
	}

	record.ID = id
	return id, nil
}

// ListRecent returns up to limit records, newest first.
func (r *StatisticsRepository) ListRecent(ctx context.Context, limit int) ([]model.StatisticsRecord, error) {
	if limit <= 0 {
		return []model.StatisticsRecord{}, nil
	}

	query, args, err := sqlx.Named(queryListRecentStatistics, map[string]interface{}{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statistics query: %w", err)
	}
	query = r.db.Conn().Rebind(query)

	r.db.RLock()
	defer r.db.RUnlock()

	var rows []statisticsDB
	if err := r.db.Conn().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}

	records := make([]model.StatisticsRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.makeRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// GetByID retrieves one record.
func (r *StatisticsRepository) GetByID(ctx context.Context, id string) (*model.StatisticsRecord, error) {
	query, args, err := sqlx.Named(queryGetStatisticsByID, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statistics query: %w", err)
	}
	query = r.db.Conn().Rebind(query)

	r.db.RLock()
	defer r.db.RUnlock()

	var row statisticsDB
	if err := r.db.Conn().GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	record, err := row.makeRecord()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Count returns the number of stored records.
func (r *StatisticsRepository) Count(ctx context.Context) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int64
	if err := r.db.Conn().GetContext(ctx, &count, `SELECT COUNT(*) FROM vehicle_statistics`); err != nil {
		return 0, fmt.Errorf("failed to count statistics: %w", err)
	}
	return count, nil
}

// DeleteAll removes every record and returns how many were removed.
func (r *StatisticsRepository) DeleteAll(ctx context.Context) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `DELETE FROM vehicle_statistics`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete statistics: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted statistics: %w", err)
	}

	r.logger.WithFields(logger.Fields{
		"request_id": requestctx.GetRequestID(ctx),
	}).Info("Deleted %d statistics records", deleted)
	return deleted, nil
}

func makeStatisticsDB(record *model.StatisticsRecord) (statisticsDB, error) {
	row := statisticsDB{
		Filename:    record.Filename,
		FileType:    record.FileType,
		Motorbikes:  record.VehicleCounts.Motorbikes,
		Cars:        record.VehicleCounts.Cars,
		Trucks:      record.VehicleCounts.Trucks,
		ProcessedAt: record.ProcessedAt.UnixNano(),
		OutputPath:  record.OutputPath,
	}

	if len(record.Metadata) > 0 {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return statisticsDB{}, fmt.Errorf("failed to encode metadata: %w", err)
		}
		row.Metadata = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (row statisticsDB) makeRecord() (model.StatisticsRecord, error) {
	record := model.StatisticsRecord{
		ID:       row.ID,
		Filename: row.Filename,
		FileType: row.FileType,
		VehicleCounts: model.Counts{
			Motorbikes: row.Motorbikes,
			Cars:       row.Cars,
			Trucks:     row.Trucks,
		},
		ProcessedAt: time.Unix(0, row.ProcessedAt).UTC(),
		OutputPath:  row.OutputPath,
	}

	if row.Metadata.Valid && row.Metadata.String != "" {
		if err := json.Unmarshal([]byte(row.Metadata.String), &record.Metadata); err != nil {
			return model.StatisticsRecord{}, fmt.Errorf("failed to decode metadata for %s: %w", row.ID, err)
		}
	}
	return record, nil
}
