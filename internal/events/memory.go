package events

import (
	"context"
	"sync"

	xerrors "VaultChain/internal/errors"
)

// MemoryProducer buffers events in a channel, mainly for development and
// tests.
type MemoryProducer struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewMemoryProducer creates a buffered in-process producer.
func NewMemoryProducer(size int) *MemoryProducer {
	if size <= 0 {
		size = 64
	}
	return &MemoryProducer{ch: make(chan Event, size)}
}

// Publish implements Producer. When the buffer is full the oldest event is
// dropped rather than blocking the ledger path.
func (p *MemoryProducer) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "event producer closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	default:
	}
	select {
	case <-p.ch:
	default:
	}
	p.ch <- event
	return nil
}

// Events exposes the buffered channel for consumers and tests.
func (p *MemoryProducer) Events() <-chan Event {
	return p.ch
}

// Close shuts the buffer down.
func (p *MemoryProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}
