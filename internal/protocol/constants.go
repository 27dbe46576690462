package protocol

const (
	FileIDSize      = 16
	FrameHeaderSize = 1 + FileIDSize + 8 + 1
	MaxChunkSize    = 256 * 1024
)

type MessageType uint8

const (
	MsgBatchMeta    MessageType = 0x01
	MsgFileMetadata MessageType = 0x02
	MsgPayload      MessageType = 0x03
	MsgRawPayload   MessageType = 0x04
	MsgAck          MessageType = 0x10
	MsgReceiveError MessageType = 0x11
)

func (t MessageType) String() string {
	switch t {
	case MsgBatchMeta:
		return "batch-meta"
	case MsgFileMetadata:
		return "file-metadata"
	case MsgPayload:
		return "payload"
	case MsgRawPayload:
		return "raw-payload"
	case MsgAck:
		return "file-received-ack"
	case MsgReceiveError:
		return "file-receive-error"
	default:
		return "unknown"
	}
}

// Payload frame flags.
const (
	FlagFinal uint8 = 1 << 0
)
