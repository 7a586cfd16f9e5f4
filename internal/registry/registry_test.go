package registry_test

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/audiobob/internal/media/mock"
	"github.com/MrWong99/audiobob/internal/registry"
	"github.com/MrWong99/audiobob/internal/session"
	"github.com/MrWong99/audiobob/pkg/audio"
)

func TestAdd_DuplicateKeepsState(t *testing.T) {
	t.Parallel()

	r := registry.New()
	if !r.Add(7) {
		t.Fatal("first Add(7) should register")
	}
	s, err := r.Session(7)
	if err != nil {
		t.Fatalf("Session(7): %v", err)
	}
	s.SetVolume(0.25)
	s.SetLooping(true)

	if r.Add(7) {
		t.Error("duplicate Add(7) must be a no-op")
	}
	again, _ := r.Session(7)
	if again != s || r.Len() != 1 {
		t.Fatal("duplicate add replaced the session")
	}
	if snap := again.Snapshot(); snap.Volume != 0.25 || !snap.Looping {
		t.Errorf("state lost: %+v", snap)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	var added, removed atomic.Int32
	r := registry.New(registry.WithHooks(
		func(registry.Handle) { added.Add(1) },
		func(registry.Handle) { removed.Add(1) },
	))
	if r.Remove(3) {
		t.Error("removing an unknown handle must report false")
	}

	r.Add(3)
	r.Add(3)
	s, _ := r.Session(3)
	if !r.Remove(3) || r.Remove(3) {
		t.Error("Remove should succeed exactly once")
	}
	src := mock.Constant(audio.Format{SampleRate: 48000, Channels: 2}, 1, 100)
	if err := s.Complete(s.Begin("x"), src); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Complete on removed session = %v, want ErrClosed", err)
	}
	if !src.Closed() {
		t.Error("source handed to a removed session must be closed")
	}
	if added.Load() != 1 || removed.Load() != 1 {
		t.Errorf("hooks ran added=%d removed=%d", added.Load(), removed.Load())
	}
}

func TestInvalidHandle(t *testing.T) {
	t.Parallel()

	r := registry.New()
	if _, err := r.Session(1); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("Session: %v", err)
	}
	if err := r.ResolveIdentity(1, "u", 2); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("ResolveIdentity: %v", err)
	}
	if _, err := r.ResolveGroup(1, 2, 3); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("ResolveGroup: %v", err)
	}
	if _, err := r.Caller(1, "ref", "u"); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("Caller: %v", err)
	}
}

func TestCaller_Resolution(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.Add(1)

	c, err := r.Caller(1, "ref", "alice")
	if err != nil || c.Resolved || c.Ref != "ref" || c.UniqueID != "alice" {
		t.Fatalf("unknown caller = %+v, %v", c, err)
	}

	if err := r.ResolveIdentity(1, "alice", 10); err != nil {
		t.Fatal(err)
	}
	c, _ = r.Caller(1, "ref", "alice")
	if c.Resolved || c.DBID != 10 {
		t.Errorf("identity without group = %+v", c)
	}

	_ = r.ResolveIdentity(1, "alice-2", 10)
	uids, err := r.ResolveGroup(1, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(uids, []string{"alice", "alice-2"}) {
		t.Errorf("ResolveGroup uids = %v", uids)
	}
	c, _ = r.Caller(1, "ref", "alice")
	if !c.Resolved || c.GroupID != 50 || c.DBID != 10 {
		t.Errorf("resolved caller = %+v", c)
	}

	// A group resolved before the identity applies once the identity arrives.
	_, _ = r.ResolveGroup(1, 20, 5)
	_ = r.ResolveIdentity(1, "bob", 20)
	if c, _ := r.Caller(1, "", "bob"); !c.Resolved || c.GroupID != 5 {
		t.Errorf("late identity = %+v", c)
	}

	// Resolutions are per connection.
	r.Add(2)
	if c, _ := r.Caller(2, "", "alice"); c.Resolved {
		t.Error("resolution leaked across connections")
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()

	r := registry.New(registry.WithFactory(func(registry.Handle) *session.Session {
		return session.New(session.WithVolume(0.5))
	}))
	r.Add(9)
	s, _ := r.Session(9)
	if s.Volume() != 0.5 {
		t.Errorf("factory not used: volume %v", s.Volume())
	}
}

func TestHandlesAndClose(t *testing.T) {
	t.Parallel()

	r := registry.New()
	for _, h := range []registry.Handle{5, 1, 3} {
		r.Add(h)
	}
	if got := r.Handles(); !slices.Equal(got, []registry.Handle{1, 3, 5}) {
		t.Errorf("Handles() = %v", got)
	}
	r.Close()
	if r.Len() != 0 {
		t.Errorf("Len() after Close = %d", r.Len())
	}
}

func TestConcurrentAddRemove(t *testing.T) {
	t.Parallel()

	r := registry.New()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := registry.Handle(i % 4)
			r.Add(h)
			_ = r.ResolveIdentity(h, "u", 1)
			if s, err := r.Session(h); err == nil {
				var buf [64]int16
				s.Pull(buf[:], 2, true)
			}
			r.Remove(h)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
