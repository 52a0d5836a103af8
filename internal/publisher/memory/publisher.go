// Package memory records publish notifications in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []capture.PublishedEvent
}

var _ capture.Notifier = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Notify records the event and returns a pseudo message ID.
func (p *Publisher) Notify(_ context.Context, evt capture.PublishedEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evt.Tags = append([]string(nil), evt.Tags...)
	p.events = append(p.events, evt)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded events.
func (p *Publisher) Events() []capture.PublishedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]capture.PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
