package protocol

import "github.com/google/uuid"

type Message interface {
	Type() MessageType
}

type BatchMeta struct {
	TotalFiles uint32
}

func (BatchMeta) Type() MessageType { return MsgBatchMeta }

type FileMetadata struct {
	FileID    uuid.UUID
	Name      string
	MimeType  string
	SizeBytes uint64
	Checksum  string
}

func (FileMetadata) Type() MessageType { return MsgFileMetadata }

// Payload is one framed chunk of a file. Offset is the position of Data
// within the file; the chunk carrying FlagFinal closes the file.
type Payload struct {
	FileID uuid.UUID
	Offset uint64
	Final  bool
	Data   []byte
}

func (Payload) Type() MessageType { return MsgPayload }

// RawPayload carries a whole file without any addressing.
type RawPayload struct {
	Data []byte
}

func (RawPayload) Type() MessageType { return MsgRawPayload }

type Ack struct {
	FileID uuid.UUID
}

func (Ack) Type() MessageType { return MsgAck }

type ReceiveError struct {
	FileID uuid.UUID
	Error  string
}

func (ReceiveError) Type() MessageType { return MsgReceiveError }

// SplitPayload frames data into chunks of at most chunkSize bytes. An empty
// payload still yields one final frame.
func SplitPayload(id uuid.UUID, data []byte, chunkSize int) []*Payload {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	frames := make([]*Payload, 0, CalculateTotalChunks(int64(len(data)), int64(chunkSize))+1)
	offset := 0
	for {
		end := min(offset+chunkSize, len(data))
		frames = append(frames, &Payload{
			FileID: id,
			Offset: uint64(offset),
			Final:  end == len(data),
			Data:   data[offset:end],
		})
		if end == len(data) {
			return frames
		}
		offset = end
	}
}

func CalculateTotalChunks(size, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}
