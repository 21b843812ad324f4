package protocol

import (
	"encoding/json"
	"fmt"
)

// Decode parses one wire message. Invalid JSON is an error; valid JSON with a
// missing or unrecognized type decodes to *Unknown so callers can reply with
// an ERROR instead of dropping the message.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	msg := newByKind(env.Type)
	if msg == nil {
		return &Unknown{Type: env.Type, Raw: data}, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg, nil
}

// Encode serializes a wire message.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageKind(), err)
	}
	return data, nil
}

func newByKind(k Kind) Message {
	switch k {
	case KindRegister:
		return &Register{}
	case KindRegisterConfirm:
		return &RegisterConfirm{}
	case KindRegisterError:
		return &RegisterError{}
	case KindHeartbeat:
		return &Heartbeat{}
	case KindHeartbeatAck:
		return &HeartbeatAck{}
	case KindTask:
		return &Task{}
	case KindTaskAssignment:
		return &TaskAssignment{}
	case KindAck:
		return &Ack{}
	case KindCommand:
		return &Command{}
	case KindCommandResults:
		return &CommandResults{}
	case KindTaskEnd:
		return &TaskEnd{}
	case KindDeviceInfoRequest:
		return &DeviceInfoRequest{}
	case KindDeviceInfoResponse:
		return &DeviceInfoResponse{}
	case KindError:
		return &Error{}
	default:
		return nil
	}
}
