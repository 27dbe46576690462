package session

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type Role int

const (
	RoleHost Role = iota
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "unknown"
	}
}

type Status int

const (
	StatusSelected Status = iota
	StatusSending
	StatusSent
	StatusFailed
	StatusReceived
	StatusDownloaded
)

func (s Status) String() string {
	switch s {
	case StatusSelected:
		return "selected"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusReceived:
		return "received"
	case StatusDownloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// Settled reports whether a sender-side status is final.
func (s Status) Settled() bool {
	return s == StatusSent || s == StatusFailed
}

// RawFile is a file picked by the user, before it is queued.
type RawFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// TransferItem is one file being sent or received. Payload is shared with
// the session and must not be modified.
type TransferItem struct {
	ID        uuid.UUID
	Name      string
	MimeType  string
	SizeBytes uint64
	Checksum  string
	Payload   []byte
	Status    Status
	Reason    string
}

func newTransferItem(f RawFile) *TransferItem {
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(f.Data).String()
	}
	return &TransferItem{
		ID:        uuid.New(),
		Name:      f.Name,
		MimeType:  mimeType,
		SizeBytes: uint64(len(f.Data)),
		Checksum:  Checksum(f.Data),
		Payload:   f.Data,
		Status:    StatusSelected,
	}
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func snapshot(items []*TransferItem) []TransferItem {
	out := make([]TransferItem, len(items))
	for i, item := range items {
		out[i] = *item
	}
	return out
}
