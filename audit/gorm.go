package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector
// for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	openers    = make(map[string]DialectorOpener)
)

// Register adds a database dialect to the registry.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	openers[name] = opener
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// NewStorage opens a GORM-backed store for the registered dialect name.
func NewStorage(dbType, dsn string) (*GormStore, error) {
	registryMu.RLock()
	opener, ok := openers[dbType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audit: unknown database type %q", dbType)
	}

	db, err := gorm.Open(opener(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewGormStore(db)
}

// GormStore persists decision events in a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an existing database handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&DecisionEvent{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, event *DecisionEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GormStore) Query(ctx context.Context, filter Filter) ([]DecisionEvent, error) {
	var events []DecisionEvent
	q := s.scoped(ctx, filter).Order("created_at desc")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GormStore) Count(ctx context.Context, filter Filter) (int64, error) {
	var n int64
	err := s.scoped(ctx, filter).Model(&DecisionEvent{}).Count(&n).Error
	return n, err
}

func (s *GormStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&DecisionEvent{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) scoped(ctx context.Context, filter Filter) *gorm.DB {
	q := s.db.WithContext(ctx)
	if filter.Decision != "" {
		q = q.Where("decision = ?", filter.Decision)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at < ?", filter.Until)
	}
	return q
}
