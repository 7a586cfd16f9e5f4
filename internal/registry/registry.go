// Package registry maps host connection handles to their audio sessions and
// caches the identity and group resolutions the host reports for callers on
// each connection.
//
// Host events are not delivered exactly once or in order, so every mutation
// tolerates duplicates: adding a known handle keeps the existing session and
// removing an unknown handle does nothing.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/audiobob/internal/command"
	"github.com/MrWong99/audiobob/internal/session"
)

// ErrInvalidHandle is returned for handles that are not registered.
var ErrInvalidHandle = errors.New("registry: invalid connection handle")

// Handle identifies one host connection.
type Handle = uint64

// Factory builds the session for a newly added connection.
type Factory func(h Handle) *session.Session

// Option configures a [Registry].
type Option func(*Registry)

// WithFactory replaces the default session constructor.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithHooks registers callbacks run after a connection was really added or
// removed. They run outside the registry lock.
func WithHooks(added, removed func(Handle)) Option {
	return func(r *Registry) {
		r.onAdded = added
		r.onRemoved = removed
	}
}

type conn struct {
	sess *session.Session

	mu     sync.Mutex
	dbIDs  map[string]uint64 // unique id → db id
	groups map[uint64]uint64 // db id → group id
}

// Registry is safe for concurrent use. Its lock guards only the handle map;
// each session synchronizes itself.
type Registry struct {
	factory   Factory
	onAdded   func(Handle)
	onRemoved func(Handle)

	mu    sync.RWMutex
	conns map[Handle]*conn
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		factory: func(Handle) *session.Session { return session.New() },
		conns:   make(map[Handle]*conn),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers h with a fresh session. It reports false, leaving the
// existing session and its state untouched, when h is already known.
func (r *Registry) Add(h Handle) bool {
	r.mu.Lock()
	if _, ok := r.conns[h]; ok {
		r.mu.Unlock()
		return false
	}
	r.conns[h] = &conn{
		sess:   r.factory(h),
		dbIDs:  make(map[string]uint64),
		groups: make(map[uint64]uint64),
	}
	r.mu.Unlock()

	if r.onAdded != nil {
		r.onAdded(h)
	}
	return true
}

// Remove unregisters h and closes its session. Unknown handles are ignored.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	c, ok := r.conns[h]
	delete(r.conns, h)
	r.mu.Unlock()
	if !ok {
		return false
	}

	c.sess.Close()
	if r.onRemoved != nil {
		r.onRemoved(h)
	}
	return true
}

func (r *Registry) lookup(h Handle) (*conn, error) {
	r.mu.RLock()
	c, ok := r.conns[h]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return c, nil
}

// Session returns the session of h.
func (r *Registry) Session(h Handle) (*session.Session, error) {
	c, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return c.sess, nil
}

// ResolveIdentity records that uniqueID maps to dbID on h.
func (r *Registry) ResolveIdentity(h Handle, uniqueID string, dbID uint64) error {
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.dbIDs[uniqueID] = dbID
	c.mu.Unlock()
	return nil
}

// ResolveGroup records the group of dbID on h and returns the unique ids
// known to map to dbID, sorted, so their queued invocations can be resumed.
func (r *Registry) ResolveGroup(h Handle, dbID, groupID uint64) ([]string, error) {
	c, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[dbID] = groupID

	var uids []string
	for uid, id := range c.dbIDs {
		if id == dbID {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	return uids, nil
}

// Caller builds the dispatcher's view of the sender uniqueID on h. The
// caller is Resolved only when both its identity and its group are cached.
func (r *Registry) Caller(h Handle, ref, uniqueID string) (command.Caller, error) {
	c, err := r.lookup(h)
	if err != nil {
		return command.Caller{}, err
	}
	caller := command.Caller{Ref: ref, UniqueID: uniqueID}

	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbIDs[uniqueID]
	if !ok {
		return caller, nil
	}
	caller.DBID = db
	if g, ok := c.groups[db]; ok {
		caller.GroupID = g
		caller.Resolved = true
	}
	return caller, nil
}

// Handles returns the registered handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	hs := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		hs = append(hs, h)
	}
	r.mu.RUnlock()
	slices.Sort(hs)
	return hs
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close removes every connection.
func (r *Registry) Close() {
	for _, h := range r.Handles() {
		r.Remove(h)
	}
}
