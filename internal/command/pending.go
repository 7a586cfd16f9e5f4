package command

import (
	"context"
	"fmt"
	"time"
)

type pendingKey struct {
	conn uint64
	uid  string
}

type pendingEntry struct {
	inv   Invocation
	match Match
	at    time.Time
}

func (d *Dispatcher) enqueue(inv Invocation, m Match) error {
	key := pendingKey{inv.Conn, inv.Caller.UniqueID}

	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.pending[key]
	if len(q) >= d.pendingLimit {
		return ErrPendingLimit
	}
	d.pending[key] = append(q, pendingEntry{inv: inv, match: m, at: d.now()})
	return nil
}

// Resume replays the invocations queued for caller on conn, in arrival
// order, using caller's resolved group. Entries that already exceeded the
// pending timeout are rejected with [ErrPendingExpired]. An unresolved
// caller leaves the queue untouched.
//
// Each queued invocation is replayed at most once.
func (d *Dispatcher) Resume(ctx context.Context, conn uint64, caller Caller) []Outcome {
	if !caller.Resolved {
		return nil
	}
	key := pendingKey{conn, caller.UniqueID}

	d.mu.Lock()
	q := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()

	now := d.now()
	outs := make([]Outcome, 0, len(q))
	for _, e := range q {
		if now.Sub(e.at) > d.pendingTimeout {
			outs = append(outs, expired(e))
			continue
		}
		inv := e.inv
		ref := inv.Caller.Ref
		inv.Caller = caller
		inv.Caller.Ref = ref
		outs = append(outs, d.proceed(ctx, inv, e.match, false))
	}
	return outs
}

// Sweep drops every queued invocation older than the pending timeout and
// returns their rejections.
func (d *Dispatcher) Sweep() []Outcome {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var outs []Outcome
	for key, q := range d.pending {
		keep := q[:0]
		for _, e := range q {
			if now.Sub(e.at) > d.pendingTimeout {
				outs = append(outs, expired(e))
			} else {
				keep = append(keep, e)
			}
		}
		if len(keep) == 0 {
			delete(d.pending, key)
		} else {
			d.pending[key] = keep
		}
	}
	return outs
}

// Forget discards everything queued for conn without replying.
func (d *Dispatcher) Forget(conn uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for key, q := range d.pending {
		if key.conn == conn {
			n += len(q)
			delete(d.pending, key)
		}
	}
	return n
}

// Pending returns the number of queued invocations.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.pending {
		n += len(q)
	}
	return n
}

func expired(e pendingEntry) Outcome {
	return Outcome{
		Invocation: e.inv,
		Stage:      StageRejected,
		Command:    e.match.Descriptor.Name,
		Err:        ErrPendingExpired,
		Reply:      fmt.Sprintf("Could not check your permissions for %q in time. Please try again.", e.match.Descriptor.Name),
	}
}
