// Package memory records notifications in process for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Notifier stores every published payload.
type Notifier struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// Message captures one Publish call.
type Message struct {
	Subject string
	Payload any
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes later Publish calls return err. A nil err restores success.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Publish records the message and returns a sequential ID.
func (n *Notifier) Publish(_ context.Context, subject string, payload any) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return "", n.err
	}
	n.messages = append(n.messages, Message{Subject: subject, Payload: payload})
	return fmt.Sprintf("memory-%d", len(n.messages)), nil
}

// Messages returns a copy of the recorded messages.
func (n *Notifier) Messages() []Message {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Message, len(n.messages))
	copy(out, n.messages)
	return out
}
