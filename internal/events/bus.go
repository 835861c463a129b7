// Package events is the in-process messaging surface between the controller
// and the relay. Listeners hold explicit subscriptions that they release on
// shutdown.
package events

import (
	"encoding/json"
	"errors"
	"sync"
)

// Message kinds exchanged between the controller and the relay.
const (
	TypeNativeMessage  = "nativeMessage"
	TypeNativeResponse = "nativeResponse"
)

// ErrNoReceiver is returned by Publish when nobody is listening.
var ErrNoReceiver = errors.New("events: receiving end does not exist")

// Message is an envelope carrying an opaque payload.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler receives published messages. It runs on the publisher's goroutine.
type Handler func(Message)

// Bus fans messages out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers msg to every current subscriber.
func (b *Bus) Publish(msg Message) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoReceiver
	}
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
