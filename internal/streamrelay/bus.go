package streamrelay

import (
	"sync"
)

// Bus is a set of named broadcast channels. A message posted on a channel is
// delivered to every other open channel with the same name, in post order.
// Nothing is retained for channels opened later.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[*BusChannel]struct{}
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*BusChannel]struct{})}
}

// Open subscribes a new channel to name.
func (b *Bus) Open(name string) *BusChannel {
	c := &BusChannel{
		bus:  b,
		name: name,
		box:  newMailbox(),
	}

	b.mu.Lock()
	subs, ok := b.topics[name]
	if !ok {
		subs = make(map[*BusChannel]struct{})
		b.topics[name] = subs
	}
	subs[c] = struct{}{}
	b.mu.Unlock()

	go c.box.run()
	return c
}

func (b *Bus) post(from *BusChannel, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[from.name] {
		if sub == from {
			continue
		}
		sub.box.push(msg.clone())
	}
}

func (b *Bus) remove(c *BusChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[c.name]
	delete(subs, c)
	if len(subs) == 0 {
		delete(b.topics, c.name)
	}
}

// Subscribers returns how many channels are open on name.
func (b *Bus) Subscribers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[name])
}

// BusChannel is one subscription on a Bus.
type BusChannel struct {
	bus  *Bus
	name string
	box  *mailbox

	closeOnce sync.Once
}

func (c *BusChannel) Name() string {
	return c.name
}

// Post broadcasts msg to the other subscribers of this channel's name.
func (c *BusChannel) Post(msg Message) error {
	if c.box.isClosed() {
		return ErrBusChannelClosed
	}
	c.bus.post(c, msg)
	return nil
}

// Messages yields messages posted by other subscribers. It is closed after
// Close; undelivered messages are dropped.
func (c *BusChannel) Messages() <-chan Message {
	return c.box.out
}

func (c *BusChannel) Close() {
	c.closeOnce.Do(func() {
		c.bus.remove(c)
		c.box.close()
	})
}

// mailbox is an unbounded FIFO so a poster never blocks on a slow reader.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	notify chan struct{}
	done   chan struct{}
	out    chan Message
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Message),
	}
}

func (m *mailbox) push(msg Message) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.done:
				return
			}
		}
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- msg:
		case <-m.done:
			return
		}
	}
}
