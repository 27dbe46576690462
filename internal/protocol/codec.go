package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrShortFrame     = errors.New("payload frame shorter than header")
	ErrInvalidFileID  = errors.New("invalid file id")
	ErrMissingFileID  = errors.New("missing file id")
	ErrUnsupportedMsg = errors.New("unsupported message")
)

// Codec turns messages into single channel messages and back. The first
// byte of every encoded message is its MessageType.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	b := []byte{byte(msg.Type())}

	switch m := msg.(type) {
	case *BatchMeta:
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TotalFiles))
	case *FileMetadata:
		b = appendFileID(b, m.FileID)
		b = appendString(b, 2, m.Name)
		b = appendString(b, 3, m.MimeType)
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, m.SizeBytes)
		b = appendString(b, 5, m.Checksum)
	case *Payload:
		b = append(b, m.FileID[:]...)
		b = binary.BigEndian.AppendUint64(b, m.Offset)
		var flags uint8
		if m.Final {
			flags |= FlagFinal
		}
		b = append(b, flags)
		b = append(b, m.Data...)
	case *RawPayload:
		b = append(b, m.Data...)
	case *Ack:
		b = appendFileID(b, m.FileID)
	case *ReceiveError:
		b = appendFileID(b, m.FileID)
		b = appendString(b, 2, m.Error)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMsg, msg)
	}

	return b, nil
}

// DecodeFromBytes decodes one channel message. Payload data aliases data.
func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	kind, body := MessageType(data[0]), data[1:]

	switch kind {
	case MsgBatchMeta:
		msg := &BatchMeta{}
		err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == 1 && typ == protowire.VarintType {
				v, n := protowire.ConsumeVarint(b)
				msg.TotalFiles = uint32(v)
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		return msg, nil

	case MsgFileMetadata:
		msg := &FileMetadata{}
		var idErr error
		err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == 1 && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(b)
				if n >= 0 {
					msg.FileID, idErr = parseFileID(v)
				}
				return n
			case num == 2 && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(b)
				msg.Name = v
				return n
			case num == 3 && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(b)
				msg.MimeType = v
				return n
			case num == 4 && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				msg.SizeBytes = v
				return n
			case num == 5 && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(b)
				msg.Checksum = v
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
		if err == nil {
			err = idErr
		}
		if err == nil && msg.FileID == uuid.Nil {
			err = ErrMissingFileID
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		return msg, nil

	case MsgPayload:
		if len(data) < FrameHeaderSize {
			return nil, fmt.Errorf("decoding %s: %w", kind, ErrShortFrame)
		}
		msg := &Payload{}
		copy(msg.FileID[:], body[:FileIDSize])
		msg.Offset = binary.BigEndian.Uint64(body[FileIDSize : FileIDSize+8])
		msg.Final = body[FileIDSize+8]&FlagFinal != 0
		msg.Data = body[FileIDSize+9:]
		return msg, nil

	case MsgRawPayload:
		return &RawPayload{Data: body}, nil

	case MsgAck:
		msg := &Ack{}
		id, _, err := decodeIDAndText(body)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		msg.FileID = id
		return msg, nil

	case MsgReceiveError:
		msg := &ReceiveError{}
		id, text, err := decodeIDAndText(body)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		msg.FileID, msg.Error = id, text
		return msg, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(kind))
	}
}

// decodeIDAndText reads the {1: file_id, 2: text} layout shared by the
// acknowledgement messages.
func decodeIDAndText(body []byte) (uuid.UUID, string, error) {
	var (
		id    uuid.UUID
		text  string
		idErr error
	)
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				id, idErr = parseFileID(v)
			}
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			text = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err == nil {
		err = idErr
	}
	if err == nil && id == uuid.Nil {
		err = ErrMissingFileID
	}
	return id, text, err
}

func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := field(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendFileID(b []byte, id uuid.UUID) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func parseFileID(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidFileID, err)
	}
	return id, nil
}
