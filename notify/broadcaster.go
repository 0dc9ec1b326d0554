// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package notify fans task completion events out to subscribers.
//
// Delivery is best effort: a subscriber that cannot keep up loses events
// rather than stalling the publisher or other subscribers. Consumers that
// need a reliable view poll task status instead.
package notify

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/poiesic/corpus/core"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// maxConsecutiveDrops is the number of consecutive full-buffer sends a
// subscriber survives before it is removed.
const maxConsecutiveDrops = 3

// ErrBroadcasterClosed indicates a subscribe on a closed broadcaster.
var ErrBroadcasterClosed = errors.New("broadcaster is closed")

// Subscription is one subscriber's event stream. Events arrive on C until
// Cancel is called or the broadcaster closes, after which C is closed.
type Subscription struct {
	C <-chan core.Event

	id    int
	ch    chan core.Event
	drops int
}

// Broadcaster distributes events to all current subscribers.
// Safe for concurrent use.
type Broadcaster struct {
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster) error

// WithBuffer sets the per-subscriber channel capacity.
// Default is DefaultBuffer.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) error {
		if n < 1 {
			return errors.New("buffer must be positive")
		}
		b.buffer = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		buffer: DefaultBuffer,
		logger: slog.Default(),
		subs:   make(map[int]*Subscription),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	b.logger = b.logger.With("component", "broadcaster")
	return b, nil
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBroadcasterClosed
	}

	ch := make(chan core.Event, b.buffer)
	sub := &Subscription{C: ch, id: b.nextID, ch: ch}
	b.subs[sub.id] = sub
	b.nextID++
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
// Safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers an event to every subscriber. A subscriber whose buffer
// is full loses this event; other subscribers are unaffected. A subscriber
// that drops maxConsecutiveDrops events in a row is removed and its channel
// closed. Publishing with no subscribers is a no-op.
func (b *Broadcaster) Publish(event core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			sub.drops = 0
		default:
			sub.drops++
			if sub.drops >= maxConsecutiveDrops {
				b.logger.Warn("subscriber not draining, removing", "subscriber", sub.id, "dropped", sub.drops)
				delete(b.subs, sub.id)
				close(sub.ch)
				continue
			}
			b.logger.Warn("subscriber buffer full, event dropped", "subscriber", sub.id, "task", event.TaskId)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes all subscriber channels. Further publishes are dropped and
// further subscribes fail.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
