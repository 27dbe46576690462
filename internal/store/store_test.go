package store_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *store.TransferStore {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	return store.NewTransferStore(gdb)
}

func TestTransferStore_RecordAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Transfer{
		ID: "f1", Role: "host", RoomID: "r1", Name: "a.png", SizeBytes: 10, Status: "selected",
	}))

	got, err := s.Get(ctx, "f1", "host")
	require.NoError(t, err)
	require.Equal(t, "a.png", got.Name)
	require.Equal(t, int64(10), got.SizeBytes)
	require.Equal(t, "selected", got.Status)
	require.False(t, got.CreatedAt.IsZero())
}

func TestTransferStore_RecordOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Transfer{ID: "f1", Role: "host", Name: "a.png", Status: "sending"}))
	first, err := s.Get(ctx, "f1", "host")
	require.NoError(t, err)

	require.NoError(t, s.Record(ctx, db.Transfer{ID: "f1", Role: "host", Name: "a.png", Status: "failed", Reason: "peer"}))

	got, err := s.Get(ctx, "f1", "host")
	require.NoError(t, err)
	require.Equal(t, "failed", got.Status)
	require.Equal(t, "peer", got.Reason)
	require.True(t, got.CreatedAt.Equal(first.CreatedAt))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestTransferStore_RolesAreSeparate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Transfer{ID: "f1", Role: "host", Status: "sent"}))
	require.NoError(t, s.Record(ctx, db.Transfer{ID: "f1", Role: "joiner", Status: "received"}))

	host, err := s.Get(ctx, "f1", "host")
	require.NoError(t, err)
	joiner, err := s.Get(ctx, "f1", "joiner")
	require.NoError(t, err)
	require.Equal(t, "sent", host.Status)
	require.Equal(t, "received", joiner.Status)
}

func TestTransferStore_GetMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "nope", "host")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransferStore_ListByRoom(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Transfer{ID: "a", Role: "host", RoomID: "r1", Name: "a"}))
	require.NoError(t, s.Record(ctx, db.Transfer{ID: "b", Role: "host", RoomID: "r2", Name: "b"}))
	require.NoError(t, s.Record(ctx, db.Transfer{ID: "c", Role: "joiner", RoomID: "r1", Name: "c"}))

	got, err := s.ListByRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, tr := range got {
		require.Equal(t, "r1", tr.RoomID)
	}
}

func TestTransferStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, db.Transfer{ID: "a", Role: "host"}))
	require.NoError(t, s.Delete(ctx, "a", "host"))

	_, err := s.Get(ctx, "a", "host")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecorderJournalsItems(t *testing.T) {
	s := setupTestStore(t)
	log, err := logger.New(io.Discard, "error")
	require.NoError(t, err)
	rec := store.NewRecorder(s, "room-9", log)

	id := uuid.New()
	item := session.TransferItem{ID: id, Name: "x.bin", MimeType: "application/octet-stream", SizeBytes: 3, Status: session.StatusSending}
	rec.ItemChanged(session.RoleHost, item)

	item.Status = session.StatusSent
	rec.ItemChanged(session.RoleHost, item)

	got, err := s.Get(context.Background(), id.String(), "host")
	require.NoError(t, err)
	require.Equal(t, "sent", got.Status)
	require.Equal(t, "room-9", got.RoomID)
	require.Equal(t, int64(3), got.SizeBytes)

	rec.ItemRemoved(session.RoleHost, id)
	_, err = s.Get(context.Background(), id.String(), "host")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecorderWithSession(t *testing.T) {
	s := setupTestStore(t)
	log, err := logger.New(io.Discard, "error")
	require.NoError(t, err)

	sess := session.New(session.Options{
		Role:     session.RoleHost,
		RoomID:   "room-1",
		Logger:   log,
		Observer: store.NewRecorder(s, "room-1", log),
	})

	items, err := sess.SelectFiles([]session.RawFile{{Name: "a.txt", Data: []byte("hi")}})
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	got, err := s.Get(context.Background(), items[0].ID.String(), "host")
	require.NoError(t, err)
	require.Equal(t, "selected", got.Status)
	require.Equal(t, "a.txt", got.Name)
}
