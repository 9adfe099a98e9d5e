// Package journal keeps an append-only record of every operation the lending
// service executed, successful or not.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Status values of an entry.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const maxListLimit = 500

// ErrPathRequired is returned when no DSN is configured.
var ErrPathRequired = errors.New("journal: dsn must be configured")

// Entry is one journaled operation. Amounts are decimal strings in base units.
type Entry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Action        string    `gorm:"index;not null" json:"action"`
	Market        string    `gorm:"index" json:"market"`
	Account       string    `gorm:"index" json:"account"`
	Counterparty  string    `json:"counterparty,omitempty"`
	Amount        string    `json:"amount"`
	Matched       string    `json:"matched"`
	Pool          string    `json:"pool"`
	DeltaAbsorbed string    `json:"deltaAbsorbed"`
	DeltaCreated  string    `json:"deltaCreated"`
	Visited       int       `json:"visited"`
	Status        string    `gorm:"index;not null" json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (Entry) TableName() string { return "lending_journal" }

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Account string
	Market  string
	Action  string
	Limit   int
}

// Journal persists entries through gorm.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use the postgres
// driver; anything else is treated as a sqlite path or URI.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database handle required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Record stores entry, assigning an id and timestamp when missing.
func (j *Journal) Record(ctx context.Context, entry Entry) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, errors.New("journal: not configured")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusOK
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	return entry, nil
}

// Get returns the entry with id.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	var entry Entry
	err := j.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("journal: entry %s: %w", id, err)
	}
	return entry, err
}

// List returns the newest entries matching filter first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal: not configured")
	}
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query := j.db.WithContext(ctx).Model(&Entry{})
	if account := strings.TrimSpace(filter.Account); account != "" {
		query = query.Where("account = ? OR counterparty = ?", account, account)
	}
	if market := strings.TrimSpace(filter.Market); market != "" {
		query = query.Where("market = ?", strings.ToUpper(market))
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action = ?", strings.ToLower(action))
	}
	var entries []Entry
	if err := query.Order("created_at DESC").Order("id").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
