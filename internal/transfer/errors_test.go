package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/radek00/PeerDrop/internal/streamrelay"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/stretchr/testify/assert"
)

func TestTransferErrorFormatting(t *testing.T) {
	assert.Equal(t, "send notes.txt: peer connection lost",
		NewFileError("send", "notes.txt", ErrTransportLost).Error())
	assert.Equal(t, "send: buffer drain timeout (buffer not draining)",
		WrapError("send", ErrBufferTimeout, "buffer not draining").Error())
	assert.Equal(t, "negotiate: transfer stalled", NewError("negotiate", ErrStalled).Error())

	wrapped := fmt.Errorf("outer: %w", NewError("receive", ErrWriteFailure))
	assert.ErrorIs(t, wrapped, ErrWriteFailure)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want webrtc.TransferStatus
	}{
		{nil, webrtc.StatusCompleted},
		{NewError("negotiate", ErrNegotiationRejected), webrtc.StatusRejected},
		{ErrConsumerCancelled, webrtc.StatusCancelled},
		{fmt.Errorf("x: %w", streamrelay.ErrStreamCancelled), webrtc.StatusCancelled},
		{context.Canceled, webrtc.StatusCancelled},
		{ErrTransportLost, webrtc.StatusError},
		{ErrStalled, webrtc.StatusError},
		{errors.New("boom"), webrtc.StatusError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForError(tt.err), "%v", tt.err)
	}
}
