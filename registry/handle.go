package registry

import (
	"sync"
)

// Message is what broadcasts and topic publishes deliver to a handle.
type Message struct {
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload"`
}

// Handle is an opaque reference to a live agent process. It is the
// supervised-handle abstraction the registry builds its liveness discipline
// on: Done closes exactly once, when the underlying process terminates, and
// the registry reacts by removing the record and all its index entries.
type Handle interface {
	// Deliver offers a message to the handle without blocking. It returns
	// false when the handle is dead or its mailbox is full.
	Deliver(msg Message) bool

	// Done is closed when the underlying process has terminated.
	Done() <-chan struct{}

	// Alive reports whether the handle has not yet terminated.
	Alive() bool
}

// LocalHandle is a channel-backed Handle for in-process agents. The owning
// goroutine drains Mailbox and calls Close when it exits.
type LocalHandle struct {
	mailbox chan Message
	done    chan struct{}
	once    sync.Once
}

// NewLocalHandle creates a handle with a bounded mailbox.
func NewLocalHandle(mailboxSize int) *LocalHandle {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	return &LocalHandle{
		mailbox: make(chan Message, mailboxSize),
		done:    make(chan struct{}),
	}
}

// Mailbox returns the receive side of the handle's message queue.
func (h *LocalHandle) Mailbox() <-chan Message {
	return h.mailbox
}

// Deliver implements Handle. Delivery is best-effort: a full mailbox drops
// the message rather than blocking the sender.
func (h *LocalHandle) Deliver(msg Message) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.mailbox <- msg:
		return true
	default:
		return false
	}
}

// Done implements Handle.
func (h *LocalHandle) Done() <-chan struct{} {
	return h.done
}

// Alive implements Handle.
func (h *LocalHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Close marks the handle terminated. Safe to call more than once.
func (h *LocalHandle) Close() {
	h.once.Do(func() { close(h.done) })
}

var _ Handle = (*LocalHandle)(nil)
