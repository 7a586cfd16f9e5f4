// Package session holds the per-connection audio state of the bot and
// produces its outgoing samples.
//
// A [Session] is mutated by command handlers and read by the host's real-time
// buffer-fill callback through [Session.Pull]. Both paths take the session's
// own mutex for a short, bounded time, so a command on one connection can
// never stall audio on another.
//
// Source acquisition is split into [Session.Begin], which enters the loading
// state immediately, and [Session.Complete] or [Session.Fail], which the
// caller invokes once the potentially slow open has finished. Every Begin,
// Stop and disable bumps a generation counter; a completion carrying an older
// [Ticket] is rejected and its source closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/audiobob/internal/media"
)

// OutputRate is the sample rate of the buffers hosts pass to [Session.Pull].
const OutputRate = 48000

// Effective sample rates selected by [Session.SetQuality]. Output is always
// produced at OutputRate; low quality limits its bandwidth to what a 24 kHz
// signal carries.
const (
	HighQualityRate = OutputRate
	LowQualityRate  = 24000
)

var (
	// ErrNoSource is returned by operations that need something playing.
	ErrNoSource = errors.New("session: nothing is playing")

	// ErrLoading is returned by Seek while the source is still being opened.
	ErrLoading = errors.New("session: source is still loading")

	// ErrSuperseded is returned by Complete when a newer Begin, a Stop, or a
	// disable has replaced the acquisition.
	ErrSuperseded = errors.New("session: acquisition superseded")

	// ErrClosed is returned after the session was closed.
	ErrClosed = errors.New("session: closed")
)

// Ticket identifies one source acquisition started by [Session.Begin].
type Ticket struct {
	gen        uint64
	Descriptor string
}

// Option configures a [Session].
type Option func(*Session)

// WithVolume sets the initial volume. Negative values are clamped to 0.
func WithVolume(v float64) Option {
	return func(s *Session) { s.volume = clampVolume(v) }
}

// WithLogger sets the logger used for playback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithUnderrunHook registers fn to be called from Pull whenever the source
// has no data buffered. fn runs with the session locked and must not block
// or call back into the session.
func WithUnderrunHook(fn func()) Option {
	return func(s *Session) { s.onUnderrun = fn }
}

// Session is the audio state of one connection. It is safe for concurrent
// use.
type Session struct {
	log        *slog.Logger
	onUnderrun func()

	mu         sync.Mutex
	closed     bool
	enabled    bool
	high       bool
	volume     float64
	looping    bool
	paused     bool
	loading    bool
	descriptor string
	src        media.Source
	gen        uint64
	pos        float64
	loops      int
	underruns  uint64
	lastErr    error

	whisperClients  map[int64]struct{}
	whisperChannels map[int64]struct{}

	// Scratch buffers reused by Pull.
	raw, conv, out []int16

	// Source frames short of a resampling block, and converted frames not
	// yet delivered. Both are dropped whenever the read position jumps.
	pending, carry []int16
}

// New returns an enabled, high-quality session with volume 1 and nothing
// playing.
func New(opts ...Option) *Session {
	s := &Session{
		log:             slog.Default(),
		enabled:         true,
		high:            true,
		volume:          1,
		whisperClients:  make(map[int64]struct{}),
		whisperChannels: make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// detachLocked clears the source and returns it for closing outside the lock.
func (s *Session) detachLocked() media.Source {
	src := s.src
	s.src = nil
	s.descriptor = ""
	s.loading = false
	s.pos = 0
	s.paused = false
	s.resetConvLocked()
	return src
}

func (s *Session) resetConvLocked() {
	s.pending = s.pending[:0]
	s.carry = s.carry[:0]
}

func closeSource(src media.Source) {
	if src != nil {
		_ = src.Close()
	}
}

// SetEnabled switches audio output on or off. Turning it off drops the
// current stream and its position.
func (s *Session) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	var src media.Source
	if !on {
		s.gen++
		src = s.detachLocked()
	}
	s.mu.Unlock()
	closeSource(src)
}

// SetQuality selects high (48 kHz) or low (24 kHz) fidelity for subsequent
// pulls. Playback speed is the same in both.
func (s *Session) SetQuality(high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.high = high
}

// Rate returns the current effective sample rate.
func (s *Session) Rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *Session) rateLocked() int {
	if s.high {
		return HighQualityRate
	}
	return LowQualityRate
}

// Begin replaces whatever is playing with descriptor in the loading state and
// returns the ticket that must be passed to Complete or Fail. Position is
// reset and pause cleared.
func (s *Session) Begin(descriptor string) Ticket {
	s.mu.Lock()
	s.gen++
	src := s.detachLocked()
	if !s.closed {
		s.descriptor = descriptor
		s.loading = true
	}
	s.lastErr = nil
	t := Ticket{gen: s.gen, Descriptor: descriptor}
	s.mu.Unlock()
	closeSource(src)
	return t
}

// Complete installs src for the acquisition identified by t. If t has been
// superseded, src is closed and ErrSuperseded returned.
func (s *Session) Complete(t Ticket, src media.Source) error {
	if src == nil {
		s.Fail(t, media.ErrSourceUnavailable)
		return fmt.Errorf("session: complete %q: %w", t.Descriptor, media.ErrSourceUnavailable)
	}
	if f := src.Format(); !f.Valid() {
		closeSource(src)
		s.Fail(t, media.ErrSourceUnavailable)
		return fmt.Errorf("session: complete %q: invalid format %v: %w", t.Descriptor, f, media.ErrSourceUnavailable)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeSource(src)
		return ErrClosed
	}
	if t.gen != s.gen || !s.loading {
		s.mu.Unlock()
		closeSource(src)
		return ErrSuperseded
	}
	s.src = src
	s.loading = false
	s.pos = 0
	s.mu.Unlock()

	s.log.Debug("session: source ready", "descriptor", t.Descriptor, "format", src.Format())
	return nil
}

// Fail ends the acquisition identified by t with err. It reports whether t
// was still current, so the caller knows to tell the requester exactly once.
func (s *Session) Fail(t Ticket, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || t.gen != s.gen || !s.loading {
		return false
	}
	s.detachLocked()
	s.lastErr = err
	return true
}

// Start opens descriptor with opener synchronously and installs it.
// Failures leave the session silent and wrap [media.ErrSourceUnavailable].
func (s *Session) Start(ctx context.Context, opener media.Opener, descriptor string) error {
	t := s.Begin(descriptor)
	src, err := opener.Open(ctx, descriptor)
	if err != nil {
		if !errors.Is(err, media.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", media.ErrSourceUnavailable, err)
		}
		s.Fail(t, err)
		return fmt.Errorf("session: start %q: %w", descriptor, err)
	}
	return s.Complete(t, src)
}

// Stop clears the source and position and cancels any pending acquisition.
// It reports whether anything was playing or loading.
func (s *Session) Stop() bool {
	s.mu.Lock()
	had := s.src != nil || s.loading
	s.gen++
	src := s.detachLocked()
	s.mu.Unlock()
	closeSource(src)
	return had
}

// Close stops playback for good. Later acquisitions are rejected.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	src := s.detachLocked()
	s.mu.Unlock()
	closeSource(src)
}

// Seek moves playback to seconds. The target is clamped to [0, duration]
// when the duration is known and to [0, +Inf) otherwise. It returns the
// position actually applied.
func (s *Session) Seek(seconds float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.loading:
		return 0, ErrLoading
	case s.src == nil:
		return 0, ErrNoSource
	case math.IsNaN(seconds):
		return s.pos, fmt.Errorf("session: seek to NaN")
	}

	target := max(seconds, 0)
	if d, ok := s.src.Duration(); ok {
		target = min(target, d)
	}
	if err := s.src.Seek(target); err != nil {
		return s.pos, fmt.Errorf("session: seek %v: %w", target, err)
	}
	s.resetConvLocked()
	s.pos = target
	return target, nil
}

// SetVolume sets the output gain. Negative values are clamped to 0; zero
// silences output while playback keeps advancing.
func (s *Session) SetVolume(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(v)
	return s.volume
}

// SetLooping toggles restarting the source when it ends.
func (s *Session) SetLooping(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.looping = on
}

// Pause holds playback at the current position.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil && !s.loading {
		return ErrNoSource
	}
	s.paused = true
	return nil
}

// Unpause resumes playback.
func (s *Session) Unpause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil && !s.loading {
		return ErrNoSource
	}
	s.paused = false
	return nil
}

// Position returns the playback position in seconds.
func (s *Session) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Volume returns the current gain.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Descriptor returns the descriptor of the current or loading source.
func (s *Session) Descriptor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	Enabled         bool    `json:"enabled"`
	HighQuality     bool    `json:"high_quality"`
	SampleRate      int     `json:"sample_rate"`
	Descriptor      string  `json:"descriptor,omitempty"`
	Loading         bool    `json:"loading"`
	Playing         bool    `json:"playing"`
	Paused          bool    `json:"paused"`
	Looping         bool    `json:"looping"`
	Volume          float64 `json:"volume"`
	Position        float64 `json:"position"`
	Duration        float64 `json:"duration,omitempty"`
	DurationKnown   bool    `json:"duration_known"`
	Loops           int     `json:"loops"`
	Underruns       uint64  `json:"underruns"`
	LastError       string  `json:"last_error,omitempty"`
	WhisperClients  []int64 `json:"whisper_clients"`
	WhisperChannels []int64 `json:"whisper_channels"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:         s.enabled,
		HighQuality:     s.high,
		SampleRate:      s.rateLocked(),
		Descriptor:      s.descriptor,
		Loading:         s.loading,
		Playing:         s.src != nil && !s.paused && s.enabled,
		Paused:          s.paused,
		Looping:         s.looping,
		Volume:          s.volume,
		Position:        s.pos,
		Loops:           s.loops,
		Underruns:       s.underruns,
		WhisperClients:  sortedKeys(s.whisperClients),
		WhisperChannels: sortedKeys(s.whisperChannels),
	}
	if s.src != nil {
		snap.Duration, snap.DurationKnown = s.src.Duration()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func sortedKeys(m map[int64]struct{}) []int64 {
	return slices.Sorted(maps.Keys(m))
}
