package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/sirupsen/logrus"
)

// Recorder journals every item change of a session.
type Recorder struct {
	session.NopObserver

	repo   TransferRepository
	roomID string
	log    *logrus.Logger
}

var _ session.Observer = (*Recorder)(nil)

func NewRecorder(repo TransferRepository, roomID string, log *logrus.Logger) *Recorder {
	return &Recorder{repo: repo, roomID: roomID, log: log}
}

func (r *Recorder) ItemChanged(role session.Role, item session.TransferItem) {
	t := db.Transfer{
		ID:        item.ID.String(),
		Role:      role.String(),
		RoomID:    r.roomID,
		Name:      item.Name,
		MimeType:  item.MimeType,
		SizeBytes: int64(item.SizeBytes),
		Checksum:  item.Checksum,
		Status:    item.Status.String(),
		Reason:    item.Reason,
	}
	if err := r.repo.Record(context.Background(), t); err != nil {
		r.log.WithError(err).Warn("Failed to journal transfer")
	}
}

func (r *Recorder) ItemRemoved(role session.Role, id uuid.UUID) {
	if err := r.repo.Delete(context.Background(), id.String(), role.String()); err != nil {
		r.log.WithError(err).Warn("Failed to remove transfer from journal")
	}
}
