// Package audio provides the PCM helpers shared by the audio session, the
// media sources, and the host adapters of audiobob.
//
// All sample data is signed 16-bit interleaved PCM. Byte representations are
// little-endian (s16le), which is what ffmpeg emits with "-f s16le" and what
// voice hosts hand to the buffer-fill callback.
package audio

import (
	"fmt"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Valid reports whether f has a positive sample rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Clip saturates v to the int16 range.
func Clip(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// BytesToInt16s decodes little-endian s16le bytes into dst and returns the
// filled prefix of dst. A trailing odd byte is ignored. dst is grown when it
// is too small.
func BytesToInt16s(dst []int16, b []byte) []int16 {
	n := len(b) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return dst
}

// Int16sToBytes encodes pcm as little-endian s16le into b. b must hold at
// least 2*len(pcm) bytes; surplus samples that do not fit are dropped.
// It returns the number of bytes written.
func Int16sToBytes(b []byte, pcm []int16) int {
	n := min(len(pcm), len(b)/2)
	for i := range n {
		s := pcm[i]
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return n * 2
}

// Remix maps frames interleaved with srcCh channels onto dstCh channels and
// writes them into dst, returning the filled prefix. Mono targets average all
// source channels; other targets take source channel i%srcCh for output
// channel i, which duplicates mono into stereo and drops extra channels.
func Remix(dst, src []int16, srcCh, dstCh int) []int16 {
	if srcCh <= 0 || dstCh <= 0 {
		return dst[:0]
	}
	frames := len(src) / srcCh
	n := frames * dstCh
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]

	if srcCh == dstCh {
		copy(dst, src[:n])
		return dst
	}

	for f := range frames {
		in := src[f*srcCh : (f+1)*srcCh]
		out := dst[f*dstCh : (f+1)*dstCh]
		if dstCh == 1 {
			var sum int32
			for _, s := range in {
				sum += int32(s)
			}
			out[0] = Clip(sum / int32(srcCh))
			continue
		}
		for c := range out {
			out[c] = in[c%srcCh]
		}
	}
	return dst
}

// Resample converts interleaved PCM from srcRate to dstRate using linear
// interpolation and writes the result into dst, returning the filled prefix.
// When the rates match, src is copied unchanged.
func Resample(dst, src []int16, channels, srcRate, dstRate int) []int16 {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 {
		return dst[:0]
	}
	srcFrames := len(src) / channels
	if srcRate == dstRate {
		n := srcFrames * channels
		if cap(dst) < n {
			dst = make([]int16, n)
		}
		dst = dst[:n]
		copy(dst, src[:n])
		return dst
	}

	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	n := dstFrames * channels
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := float64(src[idx*channels+c])
			s1 := float64(src[next*channels+c])
			dst[i*channels+c] = Clip(int32(math.Round(s0*(1-frac) + s1*frac)))
		}
	}
	return dst
}

// HoldPairs replaces each pair of consecutive frames in buf with their
// average, halving the effective sample rate without changing the frame
// count. A trailing odd frame is left as is.
func HoldPairs(buf []int16, channels int) {
	if channels <= 0 {
		return
	}
	frames := len(buf) / channels
	for f := 0; f+1 < frames; f += 2 {
		a := buf[f*channels : (f+1)*channels]
		b := buf[(f+1)*channels : (f+2)*channels]
		for c := range channels {
			v := int16((int32(a[c]) + int32(b[c])) / 2)
			a[c], b[c] = v, v
		}
	}
}

// Scale multiplies every sample in buf by factor in place, saturating at the
// int16 range. A factor of 1 leaves buf untouched; 0 zeroes it.
func Scale(buf []int16, factor float64) {
	switch {
	case factor == 1:
		return
	case factor <= 0:
		clear(buf)
		return
	}
	for i, s := range buf {
		buf[i] = Clip(int32(math.Round(float64(s) * factor)))
	}
}

// MixInto adds src onto dst sample by sample with post-mix clipping. Only
// the overlapping prefix is mixed.
func MixInto(dst, src []int16) {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = Clip(int32(dst[i]) + int32(src[i]))
	}
}

// IsSilent reports whether every sample in buf is zero.
func IsSilent(buf []int16) bool {
	for _, s := range buf {
		if s != 0 {
			return false
		}
	}
	return true
}
