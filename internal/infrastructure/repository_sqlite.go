package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// interruptedMessage is stored on runs that were still running at startup
const interruptedMessage = "interrupted: server stopped while the install was running"

// recordFilterColumns lists the columns FindAll accepts as filters
var recordFilterColumns = map[string]bool{
	"title":  true,
	"task":   true,
	"status": true,
}

// SQLiteInstallRecordRepository implements InstallRecordRepository using SQLite
type SQLiteInstallRecordRepository struct {
	db *gorm.DB
}

// NewSQLiteInstallRecordRepository opens (and migrates) the history database
func NewSQLiteInstallRecordRepository(dbPath string) (*SQLiteInstallRecordRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.InstallRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteInstallRecordRepository{db: db}, nil
}

// Create creates a new record
func (r *SQLiteInstallRecordRepository) Create(record *domain.InstallRecord) error {
	return r.db.Create(record).Error
}

// Update updates an existing record
func (r *SQLiteInstallRecordRepository) Update(record *domain.InstallRecord) error {
	return r.db.Save(record).Error
}

// FindByID finds a record by ID
func (r *SQLiteInstallRecordRepository) FindByID(id string) (*domain.InstallRecord, error) {
	var record domain.InstallRecord
	err := r.db.First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: install record %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByTitle finds the newest records of a title. A limit <= 0 returns all.
func (r *SQLiteInstallRecordRepository) FindByTitle(title string, limit int) ([]*domain.InstallRecord, error) {
	var records []*domain.InstallRecord
	query := r.db.Where("title = ?", title).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// FindAll finds all records with optional filters on title, task and status
func (r *SQLiteInstallRecordRepository) FindAll(filters map[string]interface{}) ([]*domain.InstallRecord, error) {
	var records []*domain.InstallRecord
	query := r.db

	for key, value := range filters {
		if !recordFilterColumns[key] {
			return nil, fmt.Errorf("unsupported filter: %s", key)
		}
		query = query.Where(fmt.Sprintf("%s = ?", key), value)
	}

	err := query.Order("created_at DESC").Find(&records).Error
	return records, err
}

// MarkInterrupted fails every record still marked running
func (r *SQLiteInstallRecordRepository) MarkInterrupted() (int64, error) {
	now := time.Now()
	res := r.db.Model(&domain.InstallRecord{}).
		Where("status = ?", domain.RecordRunning).
		Updates(map[string]interface{}{
			"status":        domain.RecordFailed,
			"error_message": interruptedMessage,
			"completed_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

// GetStats returns history statistics
func (r *SQLiteInstallRecordRepository) GetStats() (*domain.InstallStats, error) {
	stats := &domain.InstallStats{}

	if err := r.db.Model(&domain.InstallRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	statusCounts := []struct {
		Status domain.RecordStatus
		Count  int64
	}{}

	if err := r.db.Model(&domain.InstallRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch sc.Status {
		case domain.RecordRunning:
			stats.Running = sc.Count
		case domain.RecordFinished:
			stats.Finished = sc.Count
		case domain.RecordFailed:
			stats.Failed = sc.Count
		case domain.RecordCanceled:
			stats.Canceled = sc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteInstallRecordRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
