package transfer

import (
	"strings"

	"github.com/radek00/PeerDrop/internal/version"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

func SendTypedMessage(ch *webrtc.Channel, msgType string, payload any) error {
	if ch == nil {
		return ErrChannelNotOpen
	}
	msg, err := webrtc.NewMessage(msgType, payload)
	if err != nil {
		return NewError("create message", err)
	}
	return ch.SendMessage(msg)
}

func SendMetadata(ch *webrtc.Channel, meta webrtc.FileMetadata) error {
	return SendTypedMessage(ch, webrtc.MessageTypeFileMetadata, meta)
}

func SendWriteAck(ch *webrtc.Channel, confirmed int64) error {
	return SendTypedMessage(ch, webrtc.MessageTypeWriteAck, webrtc.WriteAckPayload{
		ConfirmedWriteSize: confirmed,
	})
}

func SendSendingDone(ch *webrtc.Channel, sent int64) error {
	return SendTypedMessage(ch, webrtc.MessageTypeSendingDone, webrtc.SendingDonePayload{
		BytesSent: sent,
	})
}

func SendDeviceInfo(ch *webrtc.Channel) error {
	return SendTypedMessage(ch, webrtc.MessageTypeDeviceInfo, webrtc.DeviceInfoPayload{
		DeviceName:    "CLI",
		DeviceVersion: strings.TrimPrefix(version.Version, "v"),
	})
}
