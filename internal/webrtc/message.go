package webrtc

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Control channel message types
const (
	MessageTypeFileMetadata = "file_metadata"
	MessageTypeWriteAck     = "write_ack"
	MessageTypeSendingDone  = "sending_done"
	MessageTypeDeviceInfo   = "device_info"
)

// Sub-channel labels created by the initiating peer
const (
	ControlChannelLabel = "control"
	DataChannelLabel    = "data"
)

// FileMetadata describes the offered file and carries the negotiation status.
type FileMetadata struct {
	Name         string         `msgpack:"name" json:"name"`
	Size         int64          `msgpack:"size" json:"size"`
	Type         string         `msgpack:"type" json:"type"`
	LastModified int64          `msgpack:"lastModified" json:"lastModified"`
	Status       TransferStatus `msgpack:"status" json:"status"`
}

// WithStatus returns a copy of m carrying status.
func (m FileMetadata) WithStatus(status TransferStatus) FileMetadata {
	m.Status = status
	return m
}

// ModTime returns LastModified as a time.
func (m FileMetadata) ModTime() time.Time {
	return time.UnixMilli(m.LastModified)
}

// Message represents all control channel messages
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// WriteAckPayload forwards the relay's confirmed write position to the sender.
type WriteAckPayload struct {
	ConfirmedWriteSize int64 `msgpack:"confirmedWriteSize"`
}

// SendingDonePayload is sent after the last chunk left the sender.
type SendingDonePayload struct {
	BytesSent int64 `msgpack:"bytesSent"`
}

// DeviceInfoPayload is sent by receiver with device info
type DeviceInfoPayload struct {
	DeviceName    string `msgpack:"deviceName"`
	DeviceVersion string `msgpack:"deviceVersion"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode marshals the envelope for the wire.
func (m Message) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

// ParseMessage decodes one control channel frame.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
