package media

import (
	"context"
	"fmt"
	"sync"
)

// Mux is an [Opener] that dispatches on the descriptor scheme.
type Mux struct {
	mu       sync.RWMutex
	schemes  map[string]Opener
	fallback Opener
}

var _ Opener = (*Mux)(nil)

// NewMux returns a Mux that hands descriptors without a registered scheme to
// fallback. fallback may be nil, in which case such descriptors fail with
// [ErrSourceUnavailable].
func NewMux(fallback Opener) *Mux {
	return &Mux{
		schemes:  make(map[string]Opener),
		fallback: fallback,
	}
}

// Handle registers o for descriptors whose scheme equals scheme
// (case-insensitive). A later registration replaces an earlier one.
func (m *Mux) Handle(scheme string, o Opener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemes[Scheme(scheme+":")] = o
}

// Open routes descriptor to the matching opener.
func (m *Mux) Open(ctx context.Context, descriptor string) (Source, error) {
	m.mu.RLock()
	o, ok := m.schemes[Scheme(descriptor)]
	if !ok {
		o = m.fallback
	}
	m.mu.RUnlock()

	if o == nil {
		return nil, fmt.Errorf("%w: no opener for %q", ErrSourceUnavailable, descriptor)
	}
	return o.Open(ctx, descriptor)
}
