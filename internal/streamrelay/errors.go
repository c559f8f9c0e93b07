package streamrelay

import "errors"

var (
	ErrBusChannelClosed = errors.New("bus channel closed")
	ErrStreamClosed     = errors.New("stream closed")
	ErrStreamCancelled  = errors.New("stream cancelled by consumer")
	ErrStreamAborted    = errors.New("stream aborted by sender")
	ErrWriteOverflow    = errors.New("chunk exceeds announced size")
	ErrUnknownSession   = errors.New("unknown stream session")
	ErrWorkerStopped    = errors.New("stream relay stopped")
)
