package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/stretchr/testify/require"
)

func TestHostViewDoneWhenAllSettled(t *testing.T) {
	var out bytes.Buffer
	files := []session.RawFile{{Name: "a", Data: []byte("aa")}, {Name: "b", Data: []byte("b")}}
	v := newHostView(&out, files)

	a := session.TransferItem{ID: uuid.New(), Name: "a", SizeBytes: 2, Status: session.StatusSending}
	b := session.TransferItem{ID: uuid.New(), Name: "b", SizeBytes: 1, Status: session.StatusSending}
	v.ItemChanged(session.RoleHost, a)

	a.Status = session.StatusSent
	v.ItemChanged(session.RoleHost, a)
	v.ItemChanged(session.RoleHost, a)

	select {
	case <-v.done:
		t.Fatal("done before every file settled")
	default:
	}

	b.Status = session.StatusFailed
	v.ItemChanged(session.RoleHost, b)

	select {
	case <-v.done:
	case <-time.After(time.Second):
		t.Fatal("expected done after every file settled")
	}
}

func TestLinkTracksConnection(t *testing.T) {
	l := newLink()
	cause := errors.New("boom")

	l.changed(true, nil)
	l.changed(true, nil)
	<-l.connected

	l.changed(false, cause)
	l.changed(false, nil)
	<-l.closed
	require.ErrorIs(t, l.err(), cause)
}

func TestJoinViewCountsBatch(t *testing.T) {
	var out bytes.Buffer
	v := newJoinView(&out)

	v.ItemChanged(session.RoleJoiner, session.TransferItem{Name: "early", Status: session.StatusReceived})
	v.BatchAnnounced(2)
	v.ItemChanged(session.RoleJoiner, session.TransferItem{Name: "a", Status: session.StatusReceived})
	v.ItemChanged(session.RoleJoiner, session.TransferItem{Name: "a", SizeBytes: 2048, Status: session.StatusDownloaded})

	require.Contains(t, out.String(), "saved a (2.0 kB)")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	failed := printSummary(&out, []session.TransferItem{
		{Name: "ok.txt", SizeBytes: 10, Status: session.StatusSent},
		{Name: "bad.txt", SizeBytes: 1, Status: session.StatusFailed, Reason: "no acknowledgement"},
	})

	require.Equal(t, 1, failed)
	require.Contains(t, out.String(), "sent     ok.txt (10 B)")
	require.Contains(t, out.String(), "failed   bad.txt (1 B): no acknowledgement")
}

func TestRenderHistory(t *testing.T) {
	var out bytes.Buffer
	renderHistory(&out, []db.Transfer{
		{ID: "1", Role: "host", RoomID: "r1", Name: "a.png", SizeBytes: 1500, Status: "sent", UpdatedAt: time.Now()},
		{ID: "2", Role: "joiner", RoomID: "r2", Name: "b.pdf", Status: "failed", Reason: "peer"},
	})

	text := out.String()
	require.True(t, strings.Contains(text, "ROOM"), text)
	require.Contains(t, text, "a.png")
	require.Contains(t, text, "1.5 kB")
	require.Contains(t, text, "b.pdf")
	require.Contains(t, text, "peer")
}

func TestPeerConfigFallsBackToDefaultSTUN(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg.STUNServers = nil
	pc := peerConfig("room-1")
	require.Equal(t, "room-1", pc.RoomID)
	require.Len(t, pc.STUNServers, 5)

	cfg.STUNServers = []string{"stun:lan.example.com:3478"}
	require.Equal(t, []string{"stun:lan.example.com:3478"}, peerConfig("room-1").STUNServers)
}
