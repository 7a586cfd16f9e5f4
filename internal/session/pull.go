package session

import (
	"errors"
	"io"

	"github.com/MrWong99/audiobob/internal/media"
	"github.com/MrWong99/audiobob/pkg/audio"
)

// Pull mixes the next len(buf)/channels frames of playback into buf. Hosts
// supply buffers at [OutputRate]; quality never changes how much source time
// one buffer covers.
//
// When outgoing is false, buf is incoming audio: it is left untouched and
// Pull returns false. Otherwise the session's output is added onto the
// samples already in buf with clipping, and a buffer the source cannot cover
// is left as it was (silence for a zeroed buffer). Pull never blocks on I/O
// and reports whether any audible source samples were mixed in.
func (s *Session) Pull(buf []int16, channels int, outgoing bool) bool {
	if !outgoing || channels <= 0 || len(buf) < channels {
		return false
	}

	s.mu.Lock()
	filled, ended := s.pullLocked(buf, channels)
	s.mu.Unlock()

	closeSource(ended)
	return filled
}

// pullLocked does the work of Pull. A source that ended or failed is detached
// and returned so the caller can close it after unlocking.
//
// Source samples are converted in whole blocks so that resampling never
// rounds frames away: raw frames short of a block wait in s.pending, and
// converted frames beyond what buf needs wait in s.carry.
func (s *Session) pullLocked(buf []int16, channels int) (bool, media.Source) {
	if s.closed || !s.enabled || s.src == nil || s.paused {
		return false, nil
	}

	format := s.src.Format()
	inBlock, outBlock := blockFrames(format.SampleRate, OutputRate)
	frames := len(buf) / channels
	wrapped := false

	produced, audible := s.deliverLocked(buf, channels, 0, format.Channels)
	for produced < frames {
		need := frames - produced
		want := ceilDiv(need, outBlock)*inBlock - len(s.pending)/format.Channels
		if inBlock != outBlock {
			want++
		}
		raw := grow(&s.raw, want*format.Channels)

		n, err := s.src.Read(raw)
		if n > 0 {
			wrapped = false
			s.pending = append(s.pending, raw[:n]...)
			s.convertLocked(format, inBlock, outBlock, false)
		}
		if errors.Is(err, io.EOF) {
			s.convertLocked(format, inBlock, outBlock, true)
		}
		m, a := s.deliverLocked(buf, channels, produced, format.Channels)
		produced += m
		audible = audible || a
		// Converted frames left over at the end wait for the next Pull, which
		// sees the end of stream again.
		if produced >= frames && (err == nil || (errors.Is(err, io.EOF) && len(s.carry) > 0)) {
			return audible, nil
		}

		switch {
		case errors.Is(err, io.EOF):
			if !s.looping {
				s.log.Debug("session: source ended", "descriptor", s.descriptor)
				return audible, s.detachLocked()
			}
			if wrapped {
				// Seeking to the start produced nothing before the next EOF.
				return audible, s.detachLocked()
			}
			if err := s.src.Seek(0); err != nil {
				s.log.Warn("session: cannot loop source", "descriptor", s.descriptor, "err", err)
				s.lastErr = err
				return audible, s.detachLocked()
			}
			s.pos = 0
			s.loops++
			wrapped = true

		case err != nil:
			s.log.Warn("session: source failed", "descriptor", s.descriptor, "err", err)
			s.lastErr = err
			return audible, s.detachLocked()

		case n == 0:
			s.underruns++
			if s.onUnderrun != nil {
				s.onUnderrun()
			}
			return audible, nil
		}
	}
	return audible, nil
}

// convertLocked resamples the whole blocks held in s.pending onto s.carry.
// When the rates differ, one frame past the last block stays behind so
// interpolation can reach into the next block. With flush set, everything
// pending is converted.
func (s *Session) convertLocked(format audio.Format, inBlock, outBlock int, flush bool) {
	ch := format.Channels
	have := len(s.pending) / ch
	whole := have - have%inBlock
	if inBlock != outBlock && have > 0 {
		whole = (have - 1) / inBlock * inBlock
	}
	if flush {
		whole = have
	}
	if whole == 0 {
		return
	}
	span := min(whole+1, have)
	s.conv = audio.Resample(s.conv[:0], s.pending[:span*ch], ch, format.SampleRate, OutputRate)
	keep := len(s.conv) / ch
	if !flush {
		keep = whole / inBlock * outBlock
	}
	s.carry = append(s.carry, s.conv[:keep*ch]...)
	s.pending = s.pending[:copy(s.pending, s.pending[whole*ch:])]
}

// deliverLocked mixes as many converted frames from s.carry into buf as fit
// after produced frames. It returns the frame count and whether it was
// audible, and advances the position by the time delivered.
func (s *Session) deliverLocked(buf []int16, channels, produced, srcCh int) (int, bool) {
	m := min(len(s.carry)/srcCh, len(buf)/channels-produced)
	if m <= 0 {
		return 0, false
	}
	s.out = audio.Remix(s.out[:0], s.carry[:m*srcCh], srcCh, channels)
	chunk := s.out[:m*channels]
	if !s.high {
		audio.HoldPairs(chunk, channels)
	}
	audio.Scale(chunk, s.volume)
	audio.MixInto(buf[produced*channels:], chunk)
	s.carry = s.carry[:copy(s.carry, s.carry[m*srcCh:])]
	s.pos += float64(m) / OutputRate
	return m, s.volume > 0
}

// blockFrames returns the smallest input and output frame counts whose
// ratio is exactly srcRate:dstRate.
func blockFrames(srcRate, dstRate int) (in, out int) {
	g := gcd(srcRate, dstRate)
	return srcRate / g, dstRate / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// grow returns (*p)[:n], reallocating when the capacity is too small.
func grow(p *[]int16, n int) []int16 {
	if cap(*p) < n {
		*p = make([]int16, n)
	}
	*p = (*p)[:n]
	return *p
}
