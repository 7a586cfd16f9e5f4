// Package mock provides in-memory implementations of [media.Source] and
// [media.Opener] for unit tests.
//
// The mocks record calls so tests can assert on counts and arguments, and
// expose fields that tests set to control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 48000, Channels: 2}, pcm)
//	opener := &mock.Opener{Result: src}
//	got, err := opener.Open(ctx, "song.mp3")
package mock

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/MrWong99/audiobob/internal/media"
	"github.com/MrWong99/audiobob/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a [media.Source] backed by a fixed slice of samples.
type Source struct {
	mu sync.Mutex

	format  audio.Format
	samples []int16
	pos     int // sample index

	// Starved makes Read return (0, nil) to simulate a buffer underrun.
	Starved bool

	// ReadErr, when set, is returned by Read once the data is exhausted
	// instead of io.EOF.
	ReadErr error

	// SeekErr is returned by Seek when non-nil.
	SeekErr error

	// HideDuration makes Duration report an unknown length.
	HideDuration bool

	// MaxFrames, when positive, caps the frames returned by one Read to
	// simulate a partially filled buffer.
	MaxFrames int

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// SeekCalls records every Seek argument in order.
	SeekCalls []float64
}

var _ media.Source = (*Source)(nil)

// NewSource returns a Source that plays samples in format.
func NewSource(format audio.Format, samples []int16) *Source {
	return &Source{format: format, samples: samples}
}

// Constant returns a Source of the given length in seconds whose every
// sample equals v.
func Constant(format audio.Format, seconds float64, v int16) *Source {
	n := int(math.Round(seconds*float64(format.SampleRate))) * format.Channels
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = v
	}
	return NewSource(format, pcm)
}

// Format implements [media.Source].
func (s *Source) Format() audio.Format { return s.format }

// Read implements [media.Source].
func (s *Source) Read(dst []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRead++
	if s.CallCountClose > 0 {
		return 0, media.ErrClosed
	}
	if s.Starved {
		return 0, nil
	}
	if s.pos >= len(s.samples) {
		if s.ReadErr != nil {
			return 0, s.ReadErr
		}
		return 0, io.EOF
	}
	dst = dst[:len(dst)-len(dst)%s.format.Channels]
	if s.MaxFrames > 0 {
		dst = dst[:min(len(dst), s.MaxFrames*s.format.Channels)]
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

// Seek implements [media.Source].
func (s *Source) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SeekCalls = append(s.SeekCalls, seconds)
	if s.SeekErr != nil {
		return s.SeekErr
	}
	frame := int(math.Round(seconds * float64(s.format.SampleRate)))
	s.pos = min(frame*s.format.Channels, len(s.samples))
	return nil
}

// Duration implements [media.Source].
func (s *Source) Duration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HideDuration {
		return 0, false
	}
	frames := len(s.samples) / s.format.Channels
	return float64(frames) / float64(s.format.SampleRate), true
}

// Close implements [media.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// Offset returns the current read position in samples.
func (s *Source) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// ─── Opener ──────────────────────────────────────────────────────────────────

// Opener is a [media.Opener] that returns preconfigured results.
type Opener struct {
	mu sync.Mutex

	// Result is returned by Open when Err is nil. A nil Result makes Open
	// fail with [media.ErrSourceUnavailable].
	Result media.Source

	// Results, when non-empty, maps descriptors to sources and takes
	// precedence over Result.
	Results map[string]media.Source

	// Err is returned by Open when non-nil.
	Err error

	// Gate, when non-nil, blocks Open until a value is received or the
	// context is done.
	Gate chan struct{}

	// Descriptors records every descriptor passed to Open.
	Descriptors []string
}

var _ media.Opener = (*Opener)(nil)

// Open implements [media.Opener].
func (o *Opener) Open(ctx context.Context, descriptor string) (media.Source, error) {
	o.mu.Lock()
	o.Descriptors = append(o.Descriptors, descriptor)
	gate := o.Gate
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if src, ok := o.Results[descriptor]; ok {
		return src, nil
	}
	if o.Result == nil {
		return nil, media.ErrSourceUnavailable
	}
	return o.Result, nil
}

// CallCount returns how many times Open was called.
func (o *Opener) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Descriptors)
}
