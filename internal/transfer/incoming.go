package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/radek00/PeerDrop/internal/streamrelay"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Confirmer asks the receiving user whether to accept an offer.
type Confirmer interface {
	Confirm(ctx context.Context, meta webrtc.FileMetadata) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, meta webrtc.FileMetadata) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, meta webrtc.FileMetadata) (bool, error) {
	return f(ctx, meta)
}

// RelayOpener opens the page side of a stream relay session.
type RelayOpener interface {
	CreateWriteStream(ctx context.Context, meta webrtc.FileMetadata) (*streamrelay.WriteStream, error)
}

// IncomingHooks observe a receiving transfer. Any may be nil.
type IncomingHooks struct {
	OnOffer    func(meta webrtc.FileMetadata)
	OnStatus   func(meta webrtc.FileMetadata)
	OnProgress func(written, total int64)
}

type confirmResult struct {
	ok  bool
	err error
}

type downloadResult struct {
	path string
	err  error
}

// Incoming drives the receiving side: it answers the offer, feeds accepted
// chunks into the stream relay and reports the outcome back to the sender.
type Incoming struct {
	control    *webrtc.Channel
	data       *webrtc.Channel
	confirmer  Confirmer
	relay      RelayOpener
	downloader streamrelay.Downloader
	opts       Options
	hooks      IncomingHooks
	log        *slog.Logger

	meta        webrtc.FileMetadata
	stream      *streamrelay.WriteStream
	received    int64
	written     int64
	expected    int64
	sendingDone bool
	path        string

	confirmCh      chan confirmResult
	confirmWait    chan confirmResult
	stopConfirm    context.CancelFunc
	downloadCh     chan downloadResult
	stopDownload   context.CancelFunc
	downloadActive bool
}

func NewIncoming(control, data *webrtc.Channel, confirmer Confirmer, relay RelayOpener, downloader streamrelay.Downloader, opts Options, hooks IncomingHooks) *Incoming {
	return &Incoming{
		control:    control,
		data:       data,
		confirmer:  confirmer,
		relay:      relay,
		downloader: downloader,
		opts:       opts,
		hooks:      hooks,
		expected:   -1,
		log:        slog.With("role", "receiver"),
	}
}

// Run waits for an offer and drives it to a terminal status. The error is
// nil for Completed and for a local decline.
func (in *Incoming) Run(ctx context.Context) (Result, error) {
	defer in.stopDownloading()
	defer in.stopConfirming()

	if err := in.control.WaitOpen(ctx); err != nil {
		if ctx.Err() != nil {
			return in.conclude(webrtc.StatusCancelled, false, ErrTransferCancelled)
		}
		return in.conclude(webrtc.StatusError, false, ErrTransportLost)
	}
	if err := SendDeviceInfo(in.control); err != nil {
		in.log.Debug("send device info", "error", err)
	}

	stall := newWatchdog(in.opts.StallTimeout)
	defer stall.Stop()

	controlClosed := in.control.Closed()
	dataClosed := in.data.Closed()

	for {
		var events <-chan streamrelay.Message
		if in.stream != nil {
			events = in.stream.Events()
		}

		select {
		case <-ctx.Done():
			return in.conclude(webrtc.StatusCancelled, true, ErrTransferCancelled)

		case <-stall.C():
			if stall.Expired() {
				return in.conclude(webrtc.StatusError, true, ErrStalled)
			}

		case frame := <-in.control.Messages():
			if status, done, err := in.handleControl(ctx, frame); done {
				return in.conclude(status, false, err)
			}

		case frame := <-in.data.Messages():
			if err := in.handleChunk(frame); err != nil {
				return in.conclude(in.relayOutcome(err))
			}
			stall.Touch()

		case res := <-in.confirmCh:
			in.confirmCh = nil
			in.confirmWait = nil
			in.stopConfirm()
			if res.err != nil {
				if ctx.Err() != nil {
					return in.conclude(webrtc.StatusCancelled, true, ErrTransferCancelled)
				}
				return in.conclude(webrtc.StatusError, true, NewError("confirm", res.err))
			}
			if !res.ok {
				in.log.Info("offer declined", "file", in.meta.Name)
				return in.conclude(webrtc.StatusRejected, true, nil)
			}
			if err := in.accept(ctx); err != nil {
				return in.conclude(webrtc.StatusError, true, err)
			}
			stall.Arm()

		case ev, ok := <-events:
			if !ok {
				return in.conclude(webrtc.StatusError, true, WrapError("receive", ErrWriteFailure, "relay channel closed"))
			}
			if status, done, err := in.handleRelay(ev); done {
				return in.conclude(status, true, err)
			}
			stall.Touch()

		case res := <-in.downloadCh:
			in.downloadCh = nil
			in.downloadActive = false
			switch {
			case res.err == nil:
				in.path = res.path
				return in.conclude(webrtc.StatusCompleted, true, nil)
			case errors.Is(res.err, context.Canceled):
				return in.conclude(webrtc.StatusCancelled, true, NewFileError("download", in.meta.Name, ErrConsumerCancelled))
			default:
				return in.conclude(webrtc.StatusError, true, NewFileError("download", in.meta.Name, res.err))
			}

		case <-controlClosed:
			for _, frame := range in.control.Drain() {
				if status, done, err := in.handleControl(ctx, frame); done {
					return in.conclude(status, false, err)
				}
			}
			return in.conclude(webrtc.StatusError, false, ErrTransportLost)

		case <-dataClosed:
			dataClosed = nil
			if in.meta.Status == webrtc.StatusInProgress && !in.sendingDone {
				for _, frame := range in.data.Drain() {
					if err := in.handleChunk(frame); err != nil {
						return in.conclude(in.relayOutcome(err))
					}
				}
				if !in.sendingDone {
					return in.conclude(webrtc.StatusError, true, WrapError("receive", ErrTransportLost, "data channel closed"))
				}
			}
		}
	}
}

func (in *Incoming) handleControl(ctx context.Context, frame []byte) (webrtc.TransferStatus, bool, error) {
	msg, err := webrtc.ParseMessage(frame)
	if err != nil {
		in.log.Warn("undecodable control frame", "error", err)
		return "", false, nil
	}

	switch msg.Type {
	case webrtc.MessageTypeFileMetadata:
		var meta webrtc.FileMetadata
		if err := msg.DecodePayload(&meta); err != nil {
			in.log.Warn("bad metadata payload", "error", err)
			return "", false, nil
		}
		return in.handleStatus(ctx, meta)

	case webrtc.MessageTypeSendingDone:
		if in.meta.Status != webrtc.StatusInProgress || in.expected >= 0 {
			in.violation(msg.Type)
			return "", false, nil
		}
		var done webrtc.SendingDonePayload
		if err := msg.DecodePayload(&done); err != nil || done.BytesSent < 0 || done.BytesSent > in.meta.Size {
			in.log.Warn("bad sending done payload", "error", err, "sent", done.BytesSent)
			done.BytesSent = in.meta.Size
		}
		in.expected = done.BytesSent
		in.finishSending()

	case webrtc.MessageTypeDeviceInfo:
		in.log.Debug("sender device info received")

	default:
		in.violation(msg.Type)
	}
	return "", false, nil
}

func (in *Incoming) handleStatus(ctx context.Context, meta webrtc.FileMetadata) (webrtc.TransferStatus, bool, error) {
	switch meta.Status {
	case webrtc.StatusPending:
		if in.meta.Status != "" {
			in.violation("second offer")
			return "", false, nil
		}
		if meta.Size < 0 || meta.Name == "" {
			in.violation("malformed offer")
			return "", false, nil
		}
		in.meta = meta
		in.log = in.log.With("file", meta.Name)
		if in.hooks.OnOffer != nil {
			in.hooks.OnOffer(meta)
		}
		in.notifyStatus()
		in.askUser(ctx, meta)
		return "", false, nil

	case webrtc.StatusCancelled, webrtc.StatusError:
		if !in.meta.Status.CanTransition(meta.Status) {
			in.violation("status " + string(meta.Status))
			return "", false, nil
		}
		if meta.Status == webrtc.StatusCancelled {
			return meta.Status, true, WrapError("receive", ErrTransferCancelled, "sender cancelled")
		}
		return meta.Status, true, NewFileError("receive", in.meta.Name, ErrRemoteError)
	}

	in.violation("status " + string(meta.Status))
	return "", false, nil
}

// askUser runs the confirmer in the background. Its context ends with the
// transfer, so a prompt never outlives the offer it asks about.
func (in *Incoming) askUser(ctx context.Context, meta webrtc.FileMetadata) {
	confirmCtx, cancel := context.WithCancel(ctx)
	in.stopConfirm = cancel
	in.confirmCh = make(chan confirmResult, 1)
	in.confirmWait = in.confirmCh
	ch := in.confirmCh
	go func() {
		ok, err := in.confirmer.Confirm(confirmCtx, meta)
		ch <- confirmResult{ok: ok, err: err}
	}()
}

func (in *Incoming) stopConfirming() {
	if in.stopConfirm == nil {
		return
	}
	in.stopConfirm()
	if in.confirmWait != nil {
		<-in.confirmWait
		in.confirmWait = nil
		in.confirmCh = nil
	}
}

// accept opens the relay session, starts the download consumer and only
// then tells the sender to start, so no chunk can outrun the relay.
func (in *Incoming) accept(ctx context.Context) error {
	meta := in.meta.WithStatus(webrtc.StatusInProgress)
	stream, err := in.relay.CreateWriteStream(ctx, meta)
	if err != nil {
		return NewError("open relay", err)
	}
	in.stream = stream

	dlCtx, cancel := context.WithCancel(ctx)
	in.stopDownload = cancel
	in.downloadCh = make(chan downloadResult, 1)
	in.downloadActive = true
	ch := in.downloadCh
	url := stream.URL()
	go func() {
		path, err := in.downloader.Download(dlCtx, url)
		ch <- downloadResult{path: path, err: err}
	}()

	in.setStatus(webrtc.StatusInProgress)
	if err := SendMetadata(in.control, in.meta); err != nil {
		return NewError("accept", err)
	}
	in.log.Debug("offer accepted", "download", url)
	return nil
}

// handleChunk forwards one data frame to the relay. sending_done travels on
// the control channel, so chunks may still arrive after it until the
// announced byte count is reached.
func (in *Incoming) handleChunk(frame []byte) error {
	if in.meta.Status != webrtc.StatusInProgress || in.sendingDone {
		in.violation("chunk")
		return nil
	}
	if _, err := in.stream.Write(frame); err != nil {
		return NewFileError("relay write", in.meta.Name, errors.Join(ErrWriteFailure, err))
	}
	in.received += int64(len(frame))
	in.finishSending()
	return nil
}

// relayOutcome explains a failed relay write. When the relay went away
// because the consumer cancelled or the relay reported an error, that report
// is already queued and takes precedence over the bare write failure.
func (in *Incoming) relayOutcome(writeErr error) (webrtc.TransferStatus, bool, error) {
	for {
		select {
		case ev, ok := <-in.stream.Events():
			if !ok {
				return webrtc.StatusError, true, writeErr
			}
			if status, done, err := in.handleRelay(ev); done {
				return status, true, err
			}
		default:
			return webrtc.StatusError, true, writeErr
		}
	}
}

func (in *Incoming) finishSending() {
	if in.sendingDone || in.expected < 0 || in.received < in.expected {
		return
	}
	in.sendingDone = true
	if err := in.stream.DoneSending(); err != nil {
		in.log.Warn("relay done sending", "error", err)
	}
}

func (in *Incoming) handleRelay(ev streamrelay.Message) (webrtc.TransferStatus, bool, error) {
	switch ev.Kind {
	case streamrelay.KindConfirmedWriteSize:
		if ev.ConfirmedWriteSize > in.written {
			in.written = ev.ConfirmedWriteSize
			if err := SendWriteAck(in.control, in.written); err != nil {
				in.log.Debug("send write ack", "error", err)
			}
			if in.hooks.OnProgress != nil {
				in.hooks.OnProgress(in.written, in.meta.Size)
			}
		}
	case streamrelay.KindReadStarted:
		in.log.Debug("download consumer started reading")
	case streamrelay.KindCancel:
		return webrtc.StatusCancelled, true, NewFileError("download", in.meta.Name, ErrConsumerCancelled)
	case streamrelay.KindError:
		return webrtc.StatusError, true, WrapError("relay", ErrWriteFailure, ev.Reason)
	default:
		in.log.Warn("ignoring relay message", "kind", ev.Kind)
	}
	return "", false, nil
}

func (in *Incoming) stopDownloading() {
	if in.stopDownload == nil {
		return
	}
	in.stopDownload()
	if in.downloadActive {
		<-in.downloadCh
		in.downloadActive = false
	}
}

// conclude settles the terminal status, releases the relay and, when it
// informed the sender, lingers until the sender tears the session down.
func (in *Incoming) conclude(status webrtc.TransferStatus, tell bool, err error) (Result, error) {
	if in.stream != nil {
		switch status {
		case webrtc.StatusCompleted:
			in.stream.Close()
		case webrtc.StatusCancelled:
			in.stream.Cancel()
		default:
			reason := "transfer failed"
			if err != nil {
				reason = err.Error()
			}
			in.stream.Fail(reason)
		}
	}
	in.stopConfirming()
	in.stopDownloading()
	in.setStatus(status)

	if tell && in.meta.Name != "" {
		if serr := SendMetadata(in.control, in.meta); serr != nil {
			in.log.Debug("could not report terminal status", "status", status, "error", serr)
		} else {
			in.linger()
		}
	}

	in.log.Info("transfer finished", "status", status, "received", in.received, "written", in.written)
	return Result{Metadata: in.meta, Bytes: in.written, Path: in.path}, err
}

func (in *Incoming) linger() {
	if in.opts.LingerTimeout <= 0 {
		return
	}
	timer := time.NewTimer(in.opts.LingerTimeout)
	defer timer.Stop()
	select {
	case <-in.control.Closed():
	case <-timer.C:
	}
}

func (in *Incoming) setStatus(status webrtc.TransferStatus) {
	if in.meta.Status == status {
		return
	}
	in.meta.Status = status
	in.notifyStatus()
}

func (in *Incoming) notifyStatus() {
	if in.hooks.OnStatus != nil {
		in.hooks.OnStatus(in.meta)
	}
}

func (in *Incoming) violation(what string) {
	in.log.Warn(ErrProtocolViolation.Error(), "message", what, "status", in.meta.Status)
}
