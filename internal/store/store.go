// Package store persists video records and their duplicate
// relationships in a sqlite database.
package store

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	archiver "github.com/posterity/media-archiver"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var ErrNotFound = errors.New("no such video")

// VideoRecord is the durable record of one archived video. Technical
// fields hold what was probed from the file on disk; the Processed*
// variants describe the re-encoded copy once post-processing has run.
type VideoRecord struct {
	VideoID        archiver.VideoID `gorm:"primaryKey;column:video_id"`
	URL            string
	CanonicalURL   string `gorm:"index"`
	Title          string
	OrigTitle      string
	Source         string
	ContentWarning string
	Status         archiver.Status `gorm:"index"`

	Duration   float64
	Width      int
	Height     int
	BitRate    int
	FrameRate  float64
	FileSize   int64
	VideoCodec string
	AudioCodec string
	HasAudio   bool

	ProcessedDuration  float64
	ProcessedWidth     int
	ProcessedHeight    int
	ProcessedBitRate   int
	ProcessedFrameRate float64
	ProcessedFileSize  int64
	PostProcessed      bool

	TaskID     string
	ProcessID  int
	UploadTime time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (VideoRecord) TableName() string { return "video" }

// AspectRatio is width/height of the original file, or 0 when unknown.
func (v *VideoRecord) AspectRatio() float64 {
	if v.Width <= 0 || v.Height <= 0 {
		return 0
	}
	return float64(v.Width) / float64(v.Height)
}

// DuplicateLink records that two videos were judged to be the same
// content. Pairs are stored normalized (LowID < HighID) so the relation
// stays symmetric with one row.
type DuplicateLink struct {
	LowID     archiver.VideoID `gorm:"primaryKey;column:low_id"`
	HighID    archiver.VideoID `gorm:"primaryKey;column:high_id"`
	CreatedAt time.Time
}

func (DuplicateLink) TableName() string { return "duplicate_link" }

// FalsePositive records a curator's judgement that a pair must never be
// linked again. Stored normalized like DuplicateLink; a pair is never in
// both tables.
type FalsePositive struct {
	LowID     archiver.VideoID `gorm:"primaryKey;column:low_id"`
	HighID    archiver.VideoID `gorm:"primaryKey;column:high_id"`
	CreatedAt time.Time
}

func (FalsePositive) TableName() string { return "false_positive" }

type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open opens (creating if necessary) the database at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	gormLogger := zapgorm2.New(zap.L().Named("store"))
	gormLogger.SetAsDefault()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, log: zap.S().Named("store")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	source, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	driver, err := migratesqlite3.WithInstance(sqlDB, &migratesqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch err {
	case nil:
		s.log.Info("database migration complete")
	case migrate.ErrNoChange:
		s.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Insert(record *VideoRecord) error {
	return s.db.Create(record).Error
}

func (s *Store) Update(record *VideoRecord) error {
	return s.db.Save(record).Error
}

// Get returns ErrNotFound when no record has the given ID.
func (s *Store) Get(id archiver.VideoID) (*VideoRecord, error) {
	var record VideoRecord
	err := s.db.First(&record, "video_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) Exists(id archiver.VideoID) bool {
	var count int64
	s.db.Model(&VideoRecord{}).Where("video_id = ?", id).Count(&count)
	return count > 0
}

func (s *Store) Delete(id archiver.VideoID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("low_id = ? OR high_id = ?", id, id).Delete(&DuplicateLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("low_id = ? OR high_id = ?", id, id).Delete(&FalsePositive{}).Error; err != nil {
			return err
		}
		return tx.Delete(&VideoRecord{}, "video_id = ?", id).Error
	})
}

func (s *Store) SetStatus(id archiver.VideoID, status archiver.Status) error {
	res := s.db.Model(&VideoRecord{}).Where("video_id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) All() ([]VideoRecord, error) {
	var records []VideoRecord
	if err := s.db.Order("created_at").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ByStatus(statuses ...archiver.Status) ([]VideoRecord, error) {
	var records []VideoRecord
	if err := s.db.Where("status IN ?", statuses).Order("created_at").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ResetStale marks every record still in a running status as failed.
// Run at startup: a running status with no live worker means the
// previous process died mid-acquisition.
func (s *Store) ResetStale() (int64, error) {
	res := s.db.Model(&VideoRecord{}).
		Where("status IN ?", []archiver.Status{archiver.StatusPending, archiver.StatusDownloading, archiver.StatusChecking, archiver.StatusProcessing}).
		Updates(map[string]any{"status": archiver.StatusFailed, "process_id": 0})
	return res.RowsAffected, res.Error
}

func orderPair(a, b archiver.VideoID) (archiver.VideoID, archiver.VideoID) {
	if b < a {
		return b, a
	}
	return a, b
}

// Link records a duplicate pair. Linking is idempotent and refuses pairs
// marked as false positives.
func (s *Store) Link(a, b archiver.VideoID) error {
	if a == b {
		return nil
	}
	low, high := orderPair(a, b)
	if fp, err := s.IsFalsePositive(low, high); err != nil {
		return err
	} else if fp {
		return nil
	}
	return s.db.Where(DuplicateLink{LowID: low, HighID: high}).
		FirstOrCreate(&DuplicateLink{LowID: low, HighID: high}).Error
}

func (s *Store) Unlink(a, b archiver.VideoID) error {
	low, high := orderPair(a, b)
	return s.db.Delete(&DuplicateLink{LowID: low, HighID: high}).Error
}

func (s *Store) Linked(a, b archiver.VideoID) (bool, error) {
	low, high := orderPair(a, b)
	var count int64
	err := s.db.Model(&DuplicateLink{}).Where("low_id = ? AND high_id = ?", low, high).Count(&count).Error
	return count > 0, err
}

// LinksFor returns the IDs linked to id, in no particular order.
func (s *Store) LinksFor(id archiver.VideoID) ([]archiver.VideoID, error) {
	var links []DuplicateLink
	if err := s.db.Where("low_id = ? OR high_id = ?", id, id).Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]archiver.VideoID, 0, len(links))
	for _, link := range links {
		if link.LowID == id {
			ids = append(ids, link.HighID)
		} else {
			ids = append(ids, link.LowID)
		}
	}
	return ids, nil
}

// MarkFalsePositive removes any duplicate link between the pair and
// records that the pair must never be linked again.
func (s *Store) MarkFalsePositive(a, b archiver.VideoID) error {
	low, high := orderPair(a, b)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&DuplicateLink{LowID: low, HighID: high}).Error; err != nil {
			return err
		}
		return tx.Where(FalsePositive{LowID: low, HighID: high}).
			FirstOrCreate(&FalsePositive{LowID: low, HighID: high}).Error
	})
}

func (s *Store) ClearFalsePositive(a, b archiver.VideoID) error {
	low, high := orderPair(a, b)
	return s.db.Delete(&FalsePositive{LowID: low, HighID: high}).Error
}

func (s *Store) IsFalsePositive(a, b archiver.VideoID) (bool, error) {
	low, high := orderPair(a, b)
	var count int64
	err := s.db.Model(&FalsePositive{}).Where("low_id = ? AND high_id = ?", low, high).Count(&count).Error
	return count > 0, err
}
