// Package catalog records which frames have been converted, by which run and
// profile, in a SQLite database.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/couchcryptid/radar-regrid/internal/domain"
)

// Frame statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Frame is one conversion attempt of a source file under a profile. The
// latest attempt replaces earlier ones.
type Frame struct {
	ID         uint   `gorm:"primaryKey"`
	Source     string `gorm:"not null;uniqueIndex:idx_source_profile"`
	Profile    string `gorm:"not null;uniqueIndex:idx_source_profile"`
	FrameID    string `gorm:"index"`
	RunID      string `gorm:"index"`
	OutputPath string
	Status     string `gorm:"index"`
	Error      string
	Max        float32
	Mean       float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is a gorm-backed catalog.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the catalog at path and migrates its schema.
// Use ":memory:" for a throwaway catalog.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return domain.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// SQLite allows one writer; batch workers share this connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Frame{}); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Store{db: db}, nil
}

// IsDone reports whether source was converted successfully under profile.
func (s *Store) IsDone(ctx context.Context, source, profile string) (bool, error) {
	var f Frame
	err := s.db.WithContext(ctx).
		Where("source = ? AND profile = ? AND status = ?", source, profile, StatusDone).
		Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query catalog: %w", err)
	}
	return true, nil
}

// Record inserts f or replaces the previous attempt for the same source and profile.
func (s *Store) Record(ctx context.Context, f Frame) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}, {Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"frame_id", "run_id", "output_path", "status", "error", "max", "mean", "updated_at",
		}),
	}).Create(&f).Error
	if err != nil {
		return fmt.Errorf("record frame %s: %w", f.Source, err)
	}
	return nil
}

// Get returns the latest attempt for source under profile.
func (s *Store) Get(ctx context.Context, source, profile string) (Frame, error) {
	var f Frame
	err := s.db.WithContext(ctx).Where("source = ? AND profile = ?", source, profile).Take(&f).Error
	if err != nil {
		return Frame{}, fmt.Errorf("get frame %s: %w", source, err)
	}
	return f, nil
}

// List returns frames with the given status ordered by source; an empty
// status lists everything.
func (s *Store) List(ctx context.Context, status string) ([]Frame, error) {
	q := s.db.WithContext(ctx).Order("source")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var frames []Frame
	if err := q.Find(&frames).Error; err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	return frames, nil
}

// RunCounts counts the frames recorded by a run, by status.
func (s *Store) RunCounts(ctx context.Context, runID string) (map[string]int, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := s.db.WithContext(ctx).Model(&Frame{}).
		Select("status, count(*) as n").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count run %s: %w", runID, err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
