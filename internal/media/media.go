// Package media opens the audio sources an audio session plays from.
//
// A [Source] is a non-blocking reader of interleaved s16le samples. Callers on
// the real-time buffer-fill path invoke Read, Seek and Close while holding a
// session lock, so none of these may wait on I/O: implementations backed by a
// process or a network stream buffer data in a background reader and return
// whatever is available.
//
// Sources are obtained from an [Opener]. [Mux] routes descriptors to openers by
// scheme ("tone:", "ws://", ...) and falls back to ffmpeg for files and URLs.
package media

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/audiobob/pkg/audio"
)

var (
	// ErrSourceUnavailable is returned when a descriptor cannot be opened or a
	// stream fails before producing audio.
	ErrSourceUnavailable = errors.New("media: source unavailable")

	// ErrBackend marks a failure of the decoding machinery itself, such as a
	// decoder that cannot be started. Only these trip a [Guard].
	ErrBackend = errors.New("media: backend failure")

	// ErrNotSeekable is returned by Seek on sources that cannot reposition.
	ErrNotSeekable = errors.New("media: source is not seekable")

	// ErrClosed is returned by operations on a closed source.
	ErrClosed = errors.New("media: source closed")
)

// Source is an open audio stream.
//
// Read copies up to len(dst) samples into dst and returns how many were
// written; the count is always a multiple of Format().Channels. A zero count
// with a nil error means no data is buffered yet. io.EOF marks the end of the
// stream. Any other error is terminal.
//
// Seek, Duration and Close must return promptly. Implementations need not be
// safe for concurrent use; the session serializes access.
type Source interface {
	Format() audio.Format
	Read(dst []int16) (int, error)
	Seek(seconds float64) error
	Duration() (seconds float64, ok bool)
	Close() error
}

// Opener turns a descriptor string into a [Source]. Open may block until the
// source is ready or ctx is done.
type Opener interface {
	Open(ctx context.Context, descriptor string) (Source, error)
}

// OpenerFunc adapts a function to the [Opener] interface.
type OpenerFunc func(ctx context.Context, descriptor string) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, descriptor string) (Source, error) {
	return f(ctx, descriptor)
}

// Scheme returns the lower-cased URI scheme of descriptor, or "" when it has
// none. Single-letter schemes are treated as Windows drive letters.
func Scheme(descriptor string) string {
	i := strings.IndexByte(descriptor, ':')
	if i < 2 {
		return ""
	}
	for j := range i {
		c := descriptor[j]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(descriptor[:i])
}

// defaultFormat is the format produced by ffmpeg and expected from websocket
// streams.
var defaultFormat = audio.Format{SampleRate: 48000, Channels: 2}
