package queue

import (
	"context"
	"fmt"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// Manager is the process-wide owner of one synchronizer per queue kind.
// Create it once, Start it once and Close it on shutdown; every observer
// shares the same instances and the same event bus.
type Manager struct {
	syncs map[transfer.Kind]*Synchronizer
	bus   *events.EventBus
}

// NewManager creates synchronizers for every kind in backends.
func NewManager(backends map[transfer.Kind]Backend, bus *events.EventBus, logger *logging.Logger, opts Options) *Manager {
	m := &Manager{
		syncs: make(map[transfer.Kind]*Synchronizer, len(backends)),
		bus:   bus,
	}
	for kind, backend := range backends {
		m.syncs[kind] = NewSynchronizer(kind, backend, bus, logger, opts)
	}
	return m
}

// For returns the synchronizer for kind.
func (m *Manager) For(kind transfer.Kind) (*Synchronizer, error) {
	s, ok := m.syncs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no queue for kind %q", transfer.ErrInvalidRequest, kind)
	}
	return s, nil
}

// Kinds returns the managed kinds in display order.
func (m *Manager) Kinds() []transfer.Kind {
	kinds := make([]transfer.Kind, 0, len(m.syncs))
	for _, k := range transfer.Kinds {
		if _, ok := m.syncs[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Bus returns the event bus carrying queue notifications.
func (m *Manager) Bus() *events.EventBus {
	return m.bus
}

// Start launches the background loops of every synchronizer.
func (m *Manager) Start(ctx context.Context) {
	for _, s := range m.syncs {
		s.Start(ctx)
	}
}

// Close stops every synchronizer.
func (m *Manager) Close() {
	for _, s := range m.syncs {
		s.Close()
	}
}
