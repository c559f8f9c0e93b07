package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Prompt asks the local user whether to accept an incoming file. A single
// goroutine reads its input, so an abandoned question never keeps the answer
// meant for the next one. Reuse one Prompt per input stream.
type Prompt struct {
	in    io.Reader
	out   io.Writer
	From  string
	start sync.Once
	lines chan promptLine
}

type promptLine struct {
	text string
	err  error
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out, lines: make(chan promptLine)}
}

func (p *Prompt) readLines() {
	defer close(p.lines)
	r := bufio.NewReader(p.in)
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			p.lines <- promptLine{err: err}
			return
		}
		p.lines <- promptLine{text: line}
	}
}

// OfferView renders the details of an offered file.
func OfferView(from string, meta webrtc.FileMetadata) string {
	var b strings.Builder
	if from != "" {
		b.WriteString(fmt.Sprintf("%s %s wants to send you a file\n\n", IconPeer, BoldStyle.Render(from)))
	}
	b.WriteString(fmt.Sprintf("%s %s\n", IconFile, TitleStyle.Render(utils.TruncateString(meta.Name, 60))))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("Size: %s", utils.FormatSize(meta.Size))))
	if meta.Type != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  Type: %s", meta.Type)))
	}
	if meta.LastModified > 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  Modified: %s", meta.ModTime().Local().Format(time.DateTime))))
	}
	return InfoBoxStyle.Render(b.String())
}

// Confirm shows the offer and reads a [Y/n] answer. An empty answer accepts
// and end of input declines.
func (p *Prompt) Confirm(ctx context.Context, meta webrtc.FileMetadata) (bool, error) {
	// lines typed while no question was showing are not answers
	for stale := true; stale; {
		select {
		case l, ok := <-p.lines:
			if !ok || l.err != nil {
				return p.answer(l, ok)
			}
		default:
			stale = false
		}
	}
	p.start.Do(func() { go p.readLines() })

	fmt.Fprintln(p.out, OfferView(p.From, meta))
	fmt.Fprintf(p.out, "\n%s Do you want to receive this file? [Y/n] ", IconQuestion)

	select {
	case l, ok := <-p.lines:
		return p.answer(l, ok)
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	}
}

func (p *Prompt) answer(l promptLine, ok bool) (bool, error) {
	switch {
	case !ok, errors.Is(l.err, io.EOF):
		return false, nil
	case l.err != nil:
		return false, fmt.Errorf("read answer: %w", l.err)
	}
	switch strings.ToLower(strings.TrimSpace(l.text)) {
	case "n", "no":
		return false, nil
	}
	return true, nil
}

// AutoAccept accepts every offer after printing it.
type AutoAccept struct {
	Out  io.Writer
	From string
}

func (a AutoAccept) Confirm(_ context.Context, meta webrtc.FileMetadata) (bool, error) {
	if a.Out != nil {
		fmt.Fprintln(a.Out, OfferView(a.From, meta))
	}
	return true, nil
}
