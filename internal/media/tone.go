package media

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/audiobob/pkg/audio"
)

// toneAmplitude keeps synthesized tones well below full scale.
const toneAmplitude = 0.3 * math.MaxInt16

// ToneOpener opens synthesized sine sources from descriptors of the form
// "tone:<hz>" (endless) or "tone:<hz>:<seconds>".
type ToneOpener struct{}

var _ Opener = ToneOpener{}

// Open parses descriptor and returns a tone source.
func (ToneOpener) Open(ctx context.Context, descriptor string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hz, seconds, err := ParseTone(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return NewTone(hz, seconds), nil
}

// ParseTone parses a "tone:" descriptor. seconds is 0 for an endless tone.
func ParseTone(descriptor string) (hz, seconds float64, err error) {
	rest, ok := strings.CutPrefix(strings.ToLower(descriptor), "tone:")
	if !ok {
		return 0, 0, fmt.Errorf("media: %q is not a tone descriptor", descriptor)
	}
	parts := strings.Split(rest, ":")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("media: tone descriptor %q has too many fields", descriptor)
	}

	hz, err = strconv.ParseFloat(parts[0], 64)
	if err != nil || hz <= 0 || hz >= float64(defaultFormat.SampleRate)/2 {
		return 0, 0, fmt.Errorf("media: invalid tone frequency %q", parts[0])
	}
	if len(parts) == 2 {
		seconds, err = strconv.ParseFloat(parts[1], 64)
		if err != nil || seconds <= 0 || math.IsInf(seconds, 0) {
			return 0, 0, fmt.Errorf("media: invalid tone length %q", parts[1])
		}
	}
	return hz, seconds, nil
}

// Tone is a synthesized sine source at 48 kHz stereo.
type Tone struct {
	hz     float64
	frames int64 // total frames, or -1 for endless
	pos    int64
	closed bool
}

var _ Source = (*Tone)(nil)

// NewTone returns a tone of hz lasting seconds. seconds <= 0 means endless.
func NewTone(hz, seconds float64) *Tone {
	frames := int64(-1)
	if seconds > 0 {
		frames = int64(math.Round(seconds * float64(defaultFormat.SampleRate)))
	}
	return &Tone{hz: hz, frames: frames}
}

// Format implements [Source].
func (t *Tone) Format() audio.Format { return defaultFormat }

// Read implements [Source].
func (t *Tone) Read(dst []int16) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	ch := defaultFormat.Channels
	want := int64(len(dst) / ch)
	if t.frames >= 0 {
		want = min(want, t.frames-t.pos)
		if want <= 0 {
			return 0, io.EOF
		}
	}

	rate := float64(defaultFormat.SampleRate)
	for i := range want {
		v := int16(toneAmplitude * math.Sin(2*math.Pi*t.hz*float64(t.pos+i)/rate))
		for c := range ch {
			dst[int(i)*ch+c] = v
		}
	}
	t.pos += want
	return int(want) * ch, nil
}

// Seek implements [Source].
func (t *Tone) Seek(seconds float64) error {
	if t.closed {
		return ErrClosed
	}
	pos := int64(math.Round(max(seconds, 0) * float64(defaultFormat.SampleRate)))
	if t.frames >= 0 {
		pos = min(pos, t.frames)
	}
	t.pos = pos
	return nil
}

// Duration implements [Source].
func (t *Tone) Duration() (float64, bool) {
	if t.frames < 0 {
		return 0, false
	}
	return float64(t.frames) / float64(defaultFormat.SampleRate), true
}

// Close implements [Source].
func (t *Tone) Close() error {
	t.closed = true
	return nil
}
