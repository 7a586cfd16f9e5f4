package media

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/audiobob/pkg/audio"
)

// stream is the buffered core shared by process and network sources. A
// producer goroutine pushes samples with fill and reports the end with finish;
// the consumer drains them with Read without ever blocking.
//
// Every producer is tagged with a generation. Bumping the generation (seek,
// close) discards buffered data and silences producers of older generations.
type stream struct {
	format audio.Format

	mu       sync.Mutex
	cond     *sync.Cond // signalled when space frees up or gen changes
	ring     ring
	gen      uint64
	eof      bool
	err      error
	produced bool
	closed   bool

	readyOnce sync.Once
	ready     chan struct{}
}

func newStream(format audio.Format, capacity int) *stream {
	s := &stream{
		format: format,
		ring:   newRing(capacity - capacity%format.Channels),
		ready:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Format implements [Source].
func (s *stream) Format() audio.Format { return s.format }

// Read implements [Source].
func (s *stream) Read(dst []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	ch := s.format.Channels
	avail := s.ring.len() - s.ring.len()%ch
	if avail == 0 {
		if s.eof {
			if s.err != nil {
				return 0, s.err
			}
			return 0, io.EOF
		}
		return 0, nil
	}
	n := s.ring.read(dst[:min(len(dst)-len(dst)%ch, avail)])
	s.cond.Broadcast()
	return n, nil
}

// restart discards buffered samples and returns the new generation.
func (s *stream) restart() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.gen++
	s.ring.reset()
	s.eof = false
	s.err = nil
	s.cond.Broadcast()
	return s.gen, nil
}

// shut marks the stream closed. It reports false when it already was.
func (s *stream) shut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.gen++
	s.ring.reset()
	s.cond.Broadcast()
	s.markReady()
	return true
}

// fill blocks until all of p is buffered. It returns false once the
// producer's generation is stale or the stream is closed.
func (s *stream) fill(gen uint64, p []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(p) > 0 {
		if s.closed || gen != s.gen {
			return false
		}
		n := s.ring.write(p)
		p = p[n:]
		if n > 0 {
			s.produced = true
			s.markReady()
		}
		if len(p) > 0 {
			s.cond.Wait()
		}
	}
	return !s.closed && gen == s.gen
}

// finish records the end of generation gen. err is kept only when nothing
// was ever produced, so a truncated stream still ends with io.EOF.
func (s *stream) finish(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.eof = true
	if err != nil && !s.produced {
		s.err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	s.markReady()
}

// markReady must be called with mu held.
func (s *stream) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// waitReady blocks until the first samples arrive, the first generation ends,
// or ctx is done.
func (s *stream) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.produced:
		return nil
	case s.err != nil:
		return s.err
	default:
		return fmt.Errorf("%w: stream ended without audio", ErrSourceUnavailable)
	}
}
