// Package db opens the local transfer journal.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Transfer is one file seen by a session, keyed by file id and the role
// that saw it, so a single machine can keep both sides of a loopback
// transfer.
type Transfer struct {
	ID        string `gorm:"primaryKey"`
	Role      string `gorm:"primaryKey"`
	RoomID    string `gorm:"index"`
	Name      string
	MimeType  string
	SizeBytes int64
	Checksum  string
	Status    string
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
