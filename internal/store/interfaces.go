package store

import (
	"context"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
)

// TransferRepository defines transfer journal operations.
type TransferRepository interface {
	Record(ctx context.Context, t db.Transfer) error
	Get(ctx context.Context, id, role string) (db.Transfer, error)
	List(ctx context.Context) ([]db.Transfer, error)
	ListByRoom(ctx context.Context, roomID string) ([]db.Transfer, error)
	Delete(ctx context.Context, id, role string) error
}
