package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// callResult is the GORM model backing the sqlite store.
type callResult struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Timestamp   string `gorm:"size:40"`
	CallID      string `gorm:"size:64;index"`
	Phone       string `gorm:"size:20"`
	Status      string `gorm:"size:16"`
	Disposition string `gorm:"size:16"`
	DurationSec int
	Summary     string `gorm:"type:text"`
	Transcript  string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (callResult) TableName() string { return "call_results" }

// SQLiteStore appends rows to a local sqlite database.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates
// the call_results table. Pass ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&callResult{}); err != nil {
		return nil, fmt.Errorf("ledger: auto-migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Name returns the backend identifier.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Append inserts the row.
func (s *SQLiteStore) Append(ctx context.Context, row Row) error {
	rec := callResult{
		Timestamp:   row.Timestamp,
		CallID:      row.CallID,
		Phone:       row.Phone,
		Status:      row.Status,
		Disposition: row.Disposition,
		DurationSec: row.DurationSec,
		Summary:     row.Summary,
		Transcript:  row.Transcript,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("ledger: insert call result: %w", err)
	}
	return nil
}

// Rows returns all stored results, oldest first.
func (s *SQLiteStore) Rows(ctx context.Context) ([]Row, error) {
	var recs []callResult
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("ledger: list call results: %w", err)
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, Row{
			Timestamp:   rec.Timestamp,
			CallID:      rec.CallID,
			Phone:       rec.Phone,
			Status:      rec.Status,
			Disposition: rec.Disposition,
			DurationSec: rec.DurationSec,
			Summary:     rec.Summary,
			Transcript:  rec.Transcript,
		})
	}
	return rows, nil
}
