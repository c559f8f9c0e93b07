package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// TransferMode represents send or receive
type TransferMode int

const (
	ModeSend TransferMode = iota
	ModeReceive
)

type UpdateType int

const (
	UpdateStatus UpdateType = iota
	UpdateProgress
	UpdatePeer
	UpdateDone
)

// TransferUpdate is sent from transfer goroutines to the view.
type TransferUpdate struct {
	Type    UpdateType
	Status  webrtc.TransferStatus
	Bytes   int64
	Message string
	Err     error
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// TransferModel is the bubbletea model for one file transfer.
type TransferModel struct {
	mode     TransferMode
	fileName string
	size     int64
	peer     string

	status     webrtc.TransferStatus
	sent       int64
	startTime  time.Time
	speed      float64
	finished   bool
	cancelling bool
	err        error

	bar     progress.Model
	spinner spinner.Model

	updates  chan TransferUpdate
	done     chan struct{}
	onCancel func()
}

// NewTransferModel creates the model. onCancel runs once when the user
// presses q or ctrl+c before the transfer ends.
func NewTransferModel(mode TransferMode, fileName string, size int64, onCancel func()) *TransferModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &TransferModel{
		mode:     mode,
		fileName: fileName,
		size:     size,
		status:   webrtc.StatusPending,
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		spinner:  s,
		updates:  make(chan TransferUpdate, 64),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

func (m *TransferModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdates(),
		tickCmd(),
	)
}

func (m *TransferModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.updates:
			return update
		case <-m.done:
			return nil
		}
	}
}

func (m *TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.finished {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				if m.onCancel != nil {
					m.onCancel()
				}
			}
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(30, msg.Width-60))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		m.updateSpeed()
		if !m.finished {
			cmds = append(cmds, tickCmd())
		}

	case TransferUpdate:
		m.apply(msg)
		if m.finished {
			return m, tea.Quit
		}
		cmds = append(cmds, m.waitForUpdates())

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *TransferModel) apply(update TransferUpdate) {
	switch update.Type {
	case UpdateStatus:
		m.status = update.Status
		if m.status == webrtc.StatusInProgress && m.startTime.IsZero() {
			m.startTime = time.Now()
		}

	case UpdateProgress:
		m.sent = update.Bytes

	case UpdatePeer:
		m.peer = update.Message

	case UpdateDone:
		m.finished = true
		if update.Status != "" {
			m.status = update.Status
		}
		if m.status == webrtc.StatusCompleted {
			m.sent = m.size
		}
		m.err = update.Err
		m.updateSpeed()
	}
}

func (m *TransferModel) updateSpeed() {
	if m.startTime.IsZero() {
		return
	}
	if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
		m.speed = float64(m.sent) / elapsed
	}
}

func (m *TransferModel) View() string {
	var b strings.Builder

	icon, verb := IconSend, "Sending"
	if m.mode == ModeReceive {
		icon, verb = IconReceive, "Receiving"
	}
	b.WriteString(fmt.Sprintf("\n%s %s %s", icon, verb, TitleStyle.Render(m.fileName)))
	b.WriteString(MutedStyle.Render(fmt.Sprintf(" (%s)", utils.FormatSize(m.size))))
	if m.peer != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf(" %s %s", IconPeer, m.peer)))
	}
	b.WriteString("\n\n")

	switch {
	case m.finished:
		b.WriteString(m.viewResult())
	case m.status == webrtc.StatusPending:
		b.WriteString(m.viewWaiting())
	default:
		b.WriteString(m.viewTransferring())
	}

	b.WriteString("\n" + m.viewFooter() + "\n")
	return b.String()
}

func (m *TransferModel) viewWaiting() string {
	if m.mode == ModeSend {
		return fmt.Sprintf("%s Waiting for the receiver to accept...", m.spinner.View())
	}
	return fmt.Sprintf("%s Waiting for your decision...", m.spinner.View())
}

func (m *TransferModel) viewTransferring() string {
	var percent float64
	if m.size > 0 {
		percent = float64(m.sent) / float64(m.size)
	}
	line := fmt.Sprintf("  %s %s %5.1f%% %s/%s",
		m.spinner.View(),
		m.bar.ViewAs(percent),
		percent*100,
		utils.FormatSize(m.sent),
		utils.FormatSize(m.size),
	)
	if m.speed > 0 {
		line += MutedStyle.Render(" " + utils.FormatSpeed(m.speed))
		if remaining := m.size - m.sent; remaining > 0 {
			eta := time.Duration(float64(remaining) / m.speed * float64(time.Second))
			line += MutedStyle.Render(" ETA " + utils.FormatTimeDuration(eta))
		}
	}
	return line + "\n"
}

func (m *TransferModel) viewResult() string {
	style := StatusStyle(m.status)
	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("%s Transfer %s", StatusIcon(m.status), statusText(m.status))))
	if m.err != nil && m.status != webrtc.StatusCompleted {
		b.WriteString("\n" + MutedStyle.Render(m.err.Error()))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *TransferModel) viewFooter() string {
	switch {
	case m.finished:
		return ""
	case m.cancelling:
		return MutedStyle.Render("Cancelling...")
	default:
		return MutedStyle.Render("Press 'q' or Ctrl+C to cancel")
	}
}

func statusText(s webrtc.TransferStatus) string {
	switch s {
	case webrtc.StatusCompleted:
		return "complete"
	case webrtc.StatusRejected:
		return "declined"
	case webrtc.StatusCancelled:
		return "cancelled"
	case webrtc.StatusError:
		return "failed"
	case webrtc.StatusInProgress:
		return "in progress"
	}
	return string(s)
}

// TransferView runs a TransferModel as a bubbletea program.
type TransferView struct {
	model   *TransferModel
	program *tea.Program
	wg      sync.WaitGroup
	once    sync.Once
}

// NewTransferView prepares the view. With interactive false the program
// reads no keys, which suits pipes and tests.
func NewTransferView(out io.Writer, interactive bool, model *TransferModel) *TransferView {
	opts := []tea.ProgramOption{tea.WithOutput(out)}
	if !interactive {
		opts = append(opts, tea.WithInput(nil))
	}
	return &TransferView{
		model:   model,
		program: tea.NewProgram(model, opts...),
	}
}

func (v *TransferView) Start() {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.program.Run(); err != nil {
			fmt.Fprintf(Output, "UI error: %v\n", err)
		}
		v.stop()
	}()
}

// Status reports a status change.
func (v *TransferView) Status(meta webrtc.FileMetadata) {
	v.send(TransferUpdate{Type: UpdateStatus, Status: meta.Status}, true)
}

// Progress reports bytes moved so far. Updates are dropped when the view
// falls behind.
func (v *TransferView) Progress(bytes int64) {
	v.send(TransferUpdate{Type: UpdateProgress, Bytes: bytes}, false)
}

func (v *TransferView) Peer(name string) {
	v.send(TransferUpdate{Type: UpdatePeer, Message: name}, true)
}

// Finish shows the outcome and waits for the program to exit.
func (v *TransferView) Finish(status webrtc.TransferStatus, err error) {
	v.send(TransferUpdate{Type: UpdateDone, Status: status, Err: err}, true)
	v.wg.Wait()
}

func (v *TransferView) send(u TransferUpdate, wait bool) {
	if !wait {
		select {
		case v.model.updates <- u:
		case <-v.model.done:
		default:
		}
		return
	}
	select {
	case v.model.updates <- u:
	case <-v.model.done:
	}
}

func (v *TransferView) stop() {
	v.once.Do(func() { close(v.model.done) })
}
