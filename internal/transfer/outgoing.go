package transfer

import (
	"context"
	"io"
	"log/slog"

	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Notifier is told about outcomes the sending user should see.
type Notifier interface {
	Rejected(meta webrtc.FileMetadata)
	Failed(meta webrtc.FileMetadata, err error)
}

// Result is the final state of one transfer.
type Result struct {
	Metadata webrtc.FileMetadata
	Bytes    int64
	Path     string
}

// OutgoingHooks observe a sending transfer. Any may be nil.
type OutgoingHooks struct {
	OnStatus   func(meta webrtc.FileMetadata)
	OnProgress ProgressFunc
	OnAck      func(confirmed int64)
	OnDevice   func(info webrtc.DeviceInfoPayload)
	Notifier   Notifier
}

// Outgoing drives the sending side of the transfer protocol over a control
// and a data channel.
type Outgoing struct {
	control *webrtc.Channel
	data    *webrtc.Channel
	file    io.Reader
	meta    webrtc.FileMetadata
	opts    Options
	hooks   OutgoingHooks
	flow    *FlowController
	log     *slog.Logger

	sendDone     chan error
	stopSender   context.CancelFunc
	sendFinished bool
}

func NewOutgoing(control, data *webrtc.Channel, file io.Reader, meta webrtc.FileMetadata, opts Options, hooks OutgoingHooks) *Outgoing {
	return &Outgoing{
		control: control,
		data:    data,
		file:    file,
		meta:    meta,
		opts:    opts,
		hooks:   hooks,
		flow:    NewFlowController(opts.FlowWindow),
		log:     slog.With("role", "sender", "file", meta.Name),
	}
}

// Run offers the file and drives the transfer until a terminal status. The
// returned error is nil only for Completed.
func (o *Outgoing) Run(ctx context.Context) (Result, error) {
	defer o.stopSending()

	if err := o.control.WaitOpen(ctx); err != nil {
		if ctx.Err() != nil {
			return o.conclude(webrtc.StatusCancelled, false, ErrTransferCancelled)
		}
		return o.conclude(webrtc.StatusError, false, ErrTransportLost)
	}

	o.setStatus(webrtc.StatusPending)
	if err := SendMetadata(o.control, o.meta); err != nil {
		return o.conclude(webrtc.StatusError, false, NewError("offer", err))
	}

	stall := newWatchdog(o.opts.StallTimeout)
	defer stall.Stop()

	controlClosed := o.control.Closed()
	dataClosed := o.data.Closed()

	for {
		select {
		case <-ctx.Done():
			return o.conclude(webrtc.StatusCancelled, true, ErrTransferCancelled)

		case <-stall.C():
			if stall.Expired() {
				return o.conclude(webrtc.StatusError, true, ErrStalled)
			}

		case frame := <-o.control.Messages():
			stall.Touch()
			if done, err := o.handleControl(ctx, frame, stall); done {
				return o.conclude(o.meta.Status, false, err)
			}

		case err := <-o.sendDone:
			o.sendDone = nil
			if err != nil {
				if ctx.Err() != nil {
					return o.conclude(webrtc.StatusCancelled, true, ErrTransferCancelled)
				}
				return o.conclude(webrtc.StatusError, true, NewFileError("send", o.meta.Name, err))
			}
			o.sendFinished = true
			stall.Touch()
			if err := SendSendingDone(o.control, o.flow.BytesSent()); err != nil {
				return o.conclude(webrtc.StatusError, false, NewError("sending done", err))
			}
			o.log.Debug("all chunks sent", "bytes", o.flow.BytesSent())

		case <-controlClosed:
			for _, frame := range o.control.Drain() {
				if done, err := o.handleControl(ctx, frame, stall); done {
					return o.conclude(o.meta.Status, false, err)
				}
			}
			return o.conclude(webrtc.StatusError, false, ErrTransportLost)

		case <-dataClosed:
			dataClosed = nil
			if o.meta.Status == webrtc.StatusInProgress && !o.sendFinished {
				return o.conclude(webrtc.StatusError, true, WrapError("send", ErrTransportLost, "data channel closed"))
			}
		}
	}
}

// handleControl applies one control frame. It reports done once the peer
// moved the transfer to a terminal status.
func (o *Outgoing) handleControl(ctx context.Context, frame []byte, stall *watchdog) (bool, error) {
	msg, err := webrtc.ParseMessage(frame)
	if err != nil {
		o.log.Warn("undecodable control frame", "error", err)
		return false, nil
	}

	switch msg.Type {
	case webrtc.MessageTypeFileMetadata:
		var meta webrtc.FileMetadata
		if err := msg.DecodePayload(&meta); err != nil {
			o.log.Warn("bad metadata payload", "error", err)
			return false, nil
		}
		return o.handleStatus(ctx, meta.Status, stall)

	case webrtc.MessageTypeWriteAck:
		var ack webrtc.WriteAckPayload
		if err := msg.DecodePayload(&ack); err != nil {
			o.log.Warn("bad write ack payload", "error", err)
			return false, nil
		}
		if o.meta.Status != webrtc.StatusInProgress {
			o.violation(msg.Type)
			return false, nil
		}
		if !o.flow.Confirm(ack.ConfirmedWriteSize) {
			o.log.Warn("write ack out of range", "confirmed", ack.ConfirmedWriteSize, "sent", o.flow.BytesSent())
		}
		if o.hooks.OnAck != nil {
			o.hooks.OnAck(o.flow.BytesConfirmed())
		}

	case webrtc.MessageTypeDeviceInfo:
		var info webrtc.DeviceInfoPayload
		if err := msg.DecodePayload(&info); err == nil {
			o.log.Info("receiver device", "name", info.DeviceName, "version", info.DeviceVersion)
			if o.hooks.OnDevice != nil {
				o.hooks.OnDevice(info)
			}
		}

	default:
		o.violation(msg.Type)
	}
	return false, nil
}

func (o *Outgoing) handleStatus(ctx context.Context, status webrtc.TransferStatus, stall *watchdog) (bool, error) {
	if !o.meta.Status.CanTransition(status) {
		o.violation("status " + string(status))
		return false, nil
	}

	switch status {
	case webrtc.StatusInProgress:
		o.setStatus(status)
		stall.Arm()
		o.startSending(ctx, stall)
		return false, nil

	case webrtc.StatusRejected:
		o.setStatus(status)
		if o.hooks.Notifier != nil {
			o.hooks.Notifier.Rejected(o.meta)
		}
		return true, NewFileError("offer", o.meta.Name, ErrNegotiationRejected)

	case webrtc.StatusCompleted:
		if !o.sendFinished {
			o.violation("completed before all chunks were sent")
			return false, nil
		}
		o.setStatus(status)
		return true, nil

	case webrtc.StatusCancelled:
		o.setStatus(status)
		return true, NewFileError("send", o.meta.Name, ErrConsumerCancelled)

	case webrtc.StatusError:
		o.setStatus(status)
		return true, NewFileError("send", o.meta.Name, ErrRemoteError)
	}
	return false, nil
}

func (o *Outgoing) startSending(ctx context.Context, stall *watchdog) {
	sendCtx, cancel := context.WithCancel(ctx)
	o.stopSender = cancel
	o.sendDone = make(chan error, 1)

	sender := NewChunkSender(o.data, o.flow, o.opts.ChunkSize)
	done := o.sendDone
	go func() {
		if err := o.data.WaitOpen(sendCtx); err != nil {
			done <- err
			return
		}
		done <- sender.Send(sendCtx, o.file, o.meta.Size, func(percent float64, status SendStatus) {
			stall.Touch()
			if o.hooks.OnProgress != nil {
				o.hooks.OnProgress(percent, status)
			}
		})
	}()
}

func (o *Outgoing) stopSending() {
	if o.stopSender == nil {
		return
	}
	o.stopSender()
	if o.sendDone != nil {
		<-o.sendDone
		o.sendDone = nil
	}
}

// conclude records the terminal status. With tell set the peer is informed
// over the control channel first.
func (o *Outgoing) conclude(status webrtc.TransferStatus, tell bool, err error) (Result, error) {
	o.stopSending()
	o.setStatus(status)

	if tell {
		if serr := SendMetadata(o.control, o.meta); serr != nil {
			o.log.Debug("could not report terminal status", "status", status, "error", serr)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), o.opts.DrainTimeout)
			o.control.Flush(ctx)
			cancel()
		}
	}

	if status == webrtc.StatusError && o.hooks.Notifier != nil {
		o.hooks.Notifier.Failed(o.meta, err)
	}
	o.log.Info("transfer finished", "status", status, "sent", o.flow.BytesSent(), "confirmed", o.flow.BytesConfirmed())
	return Result{Metadata: o.meta, Bytes: o.flow.BytesSent()}, err
}

func (o *Outgoing) setStatus(status webrtc.TransferStatus) {
	if o.meta.Status == status {
		return
	}
	o.meta.Status = status
	if o.hooks.OnStatus != nil {
		o.hooks.OnStatus(o.meta)
	}
}

func (o *Outgoing) violation(what string) {
	o.log.Warn(ErrProtocolViolation.Error(), "message", what, "status", o.meta.Status)
}
