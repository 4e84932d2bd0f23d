package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory hands out a single Store per database handle
type Factory struct {
	db    *gorm.DB
	store Store
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetStore returns the singleton Store instance
func (f *Factory) GetStore() Store {
	f.once.Do(func() {
		f.store = NewStore(f.db)
	})
	return f.store
}
