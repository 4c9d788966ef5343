package protocol

import (
	"fmt"

	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/google/uuid"
)

// AppMessage is one app-message endpoint payload. Push carries UUID and
// Dict; Ack and Nack carry only the transaction id.
type AppMessage struct {
	Command       uint8
	TransactionID uint8
	UUID          uuid.UUID
	Dict          typed.Dict
}

func EncodeAppMessagePush(txid uint8, app uuid.UUID, d typed.Dict) ([]byte, error) {
	tuples, err := d.EncodeTuples()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(app)+len(tuples))
	out = append(out, AppMessagePush, txid)
	out = append(out, app[:]...)
	out = append(out, tuples...)
	return out, nil
}

func EncodeAppMessageAck(txid uint8) []byte {
	return []byte{AppMessageAck, txid}
}

func EncodeAppMessageNack(txid uint8) []byte {
	return []byte{AppMessageNack, txid}
}

func ParseAppMessage(payload []byte) (AppMessage, error) {
	if len(payload) < 2 {
		return AppMessage{}, fmt.Errorf("%w: app message %d bytes", ErrTruncated, len(payload))
	}
	msg := AppMessage{Command: payload[0], TransactionID: payload[1]}
	switch msg.Command {
	case AppMessageAck, AppMessageNack:
		return msg, nil
	case AppMessagePush:
		if len(payload) < 2+16+1 {
			return AppMessage{}, fmt.Errorf("%w: app push %d bytes", ErrTruncated, len(payload))
		}
		id, err := uuid.FromBytes(payload[2:18])
		if err != nil {
			return AppMessage{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
		}
		d, err := typed.DecodeTuples(payload[18:])
		if err != nil {
			return AppMessage{}, err
		}
		msg.UUID = id
		msg.Dict = d
		return msg, nil
	default:
		return AppMessage{}, fmt.Errorf("%w: app message 0x%02x", ErrUnexpectedCode, msg.Command)
	}
}

// AppRemoveRequest asks the app manager to remove the app with the given UUID.
func AppRemoveRequest(app uuid.UUID) []byte {
	out := make([]byte, 0, 1+len(app))
	out = append(out, AppManagerRemoveApp)
	return append(out, app[:]...)
}
