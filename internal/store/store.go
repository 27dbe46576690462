// Package store keeps the journal of transferred files.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("transfer not found")

type TransferStore struct {
	db *gorm.DB
}

var _ TransferRepository = (*TransferStore)(nil)

func NewTransferStore(gdb *gorm.DB) *TransferStore {
	return &TransferStore{db: gdb}
}

// Record inserts t or overwrites the row with the same id and role.
func (s *TransferStore) Record(ctx context.Context, t db.Transfer) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&t).Error
	if err != nil {
		return fmt.Errorf("recording transfer %s: %w", t.ID, err)
	}
	return nil
}

func (s *TransferStore) Get(ctx context.Context, id, role string) (db.Transfer, error) {
	var t db.Transfer
	err := s.db.WithContext(ctx).Where("id = ? AND role = ?", id, role).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Transfer{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

func (s *TransferStore) List(ctx context.Context) ([]db.Transfer, error) {
	var out []db.Transfer
	err := s.db.WithContext(ctx).Order("created_at, name").Find(&out).Error
	return out, err
}

func (s *TransferStore) ListByRoom(ctx context.Context, roomID string) ([]db.Transfer, error) {
	var out []db.Transfer
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at, name").Find(&out).Error
	return out, err
}

func (s *TransferStore) Delete(ctx context.Context, id, role string) error {
	return s.db.WithContext(ctx).Where("id = ? AND role = ?", id, role).Delete(&db.Transfer{}).Error
}
