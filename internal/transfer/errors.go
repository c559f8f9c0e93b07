package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/radek00/PeerDrop/internal/streamrelay"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

var (
	ErrNegotiationRejected = errors.New("receiver declined the transfer")
	ErrTransportLost       = errors.New("peer connection lost")
	ErrWriteFailure        = errors.New("relay could not write chunk")
	ErrConsumerCancelled   = errors.New("download cancelled by receiver")
	ErrProtocolViolation   = errors.New("unexpected message for transfer state")
	ErrStalled             = errors.New("transfer stalled")
	ErrTransferCancelled   = errors.New("transfer cancelled by user")
	ErrRemoteError         = errors.New("peer reported an error")
	ErrChannelClosed       = webrtc.ErrChannelClosed
	ErrChannelNotOpen      = webrtc.ErrChannelNotOpen
	ErrBufferTimeout       = errors.New("buffer drain timeout")
	ErrSignalingError      = errors.New("signaling server error")
	ErrTimeout             = errors.New("timeout")
	ErrPeerNotFound        = errors.New("peer not found")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}

// StatusForError maps a transfer error onto the terminal status both peers
// should agree on. A nil error means Completed.
func StatusForError(err error) webrtc.TransferStatus {
	switch {
	case err == nil:
		return webrtc.StatusCompleted
	case errors.Is(err, ErrNegotiationRejected):
		return webrtc.StatusRejected
	case errors.Is(err, ErrConsumerCancelled),
		errors.Is(err, ErrTransferCancelled),
		errors.Is(err, streamrelay.ErrStreamCancelled),
		errors.Is(err, context.Canceled):
		return webrtc.StatusCancelled
	default:
		return webrtc.StatusError
	}
}
