package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/audiobob/pkg/audio"
)

// FFmpeg opens files and URLs by decoding them with an ffmpeg child process
// into 48 kHz stereo s16le.
type FFmpeg struct {
	// Path is the ffmpeg executable. Default: "ffmpeg".
	Path string

	// Buffer is how much decoded audio is held ahead of playback.
	// Default: 2s.
	Buffer time.Duration
}

var _ Opener = (*FFmpeg)(nil)

// Available reports whether the ffmpeg executable can be found.
func (f *FFmpeg) Available() error {
	_, err := exec.LookPath(f.path())
	return err
}

func (f *FFmpeg) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func (f *FFmpeg) capacity() int {
	buf := f.Buffer
	if buf <= 0 {
		buf = 2 * time.Second
	}
	samples := int(buf.Seconds() * float64(defaultFormat.SampleRate*defaultFormat.Channels))
	return max(samples, readChunk)
}

// Open starts ffmpeg for descriptor and waits until the first audio arrives,
// the process fails, or ctx is done.
func (f *FFmpeg) Open(ctx context.Context, descriptor string) (Source, error) {
	if strings.TrimSpace(descriptor) == "" {
		return nil, fmt.Errorf("%w: empty descriptor", ErrSourceUnavailable)
	}
	s := &ffmpegSource{
		stream:     newStream(defaultFormat, f.capacity()),
		path:       f.path(),
		descriptor: descriptor,
	}
	if err := s.spawn(0, 0); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrSourceUnavailable, ErrBackend, err)
	}
	if err := s.waitReady(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// FFmpegArgs returns the ffmpeg argument list that decodes descriptor from
// offset seconds into raw 48 kHz stereo PCM on stdout.
func FFmpegArgs(descriptor string, offset float64) []string {
	args := []string{"-hide_banner", "-nostats"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', 3, 64))
	}
	return append(args,
		"-i", descriptor,
		"-ac", strconv.Itoa(defaultFormat.Channels),
		"-ar", strconv.Itoa(defaultFormat.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseDuration extracts the input duration from an ffmpeg stderr line.
func ParseDuration(line string) (float64, bool) {
	m := durationRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+mins*60) + secs, true
}

// readChunk is the number of samples moved per pipe read.
const readChunk = 2048

type ffmpegSource struct {
	*stream
	path       string
	descriptor string

	pmu      sync.Mutex
	cmd      *exec.Cmd
	duration float64
	hasDur   bool
}

var _ Source = (*ffmpegSource)(nil)

// spawn starts a decoder for generation gen at offset. A process started for
// a generation that is already stale is killed immediately.
func (s *ffmpegSource) spawn(gen uint64, offset float64) error {
	cmd := exec.Command(s.path, FFmpegArgs(s.descriptor, offset)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}

	s.pmu.Lock()
	s.mu.Lock()
	stale := s.closed || gen != s.gen
	s.mu.Unlock()
	var old *exec.Cmd
	if !stale {
		old, s.cmd = s.cmd, cmd
	}
	s.pmu.Unlock()

	if old != nil && old.Process != nil {
		_ = old.Process.Kill()
	}
	if stale {
		_ = cmd.Process.Kill()
	}

	diag := make(chan string, 1)
	go s.scanStderr(stderr, diag)
	go s.pump(gen, cmd, stdout, diag)
	return nil
}

// pump copies decoded PCM into the stream until the pipe ends.
func (s *ffmpegSource) pump(gen uint64, cmd *exec.Cmd, stdout io.Reader, diag <-chan string) {
	raw := make([]byte, readChunk*2)
	pcm := make([]int16, readChunk)
	var readErr error
	for {
		n, err := io.ReadFull(stdout, raw)
		if n > 0 {
			pcm = audio.BytesToInt16s(pcm, raw[:n-n%2])
			if !s.fill(gen, pcm) {
				_ = cmd.Process.Kill()
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
	}

	last := <-diag
	waitErr := cmd.Wait()
	switch {
	case readErr != nil:
		s.finish(gen, fmt.Errorf("ffmpeg: read: %w", readErr))
	case waitErr != nil:
		s.finish(gen, fmt.Errorf("ffmpeg: %w: %s", waitErr, last))
	default:
		s.finish(gen, nil)
	}
}

// scanStderr records the reported duration and sends the last diagnostic
// line on diag once stderr closes.
func (s *ffmpegSource) scanStderr(r io.Reader, diag chan<- string) {
	var last string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		if d, ok := ParseDuration(line); ok {
			s.pmu.Lock()
			if !s.hasDur {
				s.duration, s.hasDur = d, true
			}
			s.pmu.Unlock()
		}
	}
	diag <- last
}

// Seek restarts the decoder at seconds. The new process is started in the
// background; reads return no data until it produces output.
func (s *ffmpegSource) Seek(seconds float64) error {
	gen, err := s.restart()
	if err != nil {
		return err
	}
	offset := max(seconds, 0)
	go func() {
		if err := s.spawn(gen, offset); err != nil {
			slog.Warn("ffmpeg: restart after seek failed", "descriptor", s.descriptor, "err", err)
			s.finish(gen, err)
		}
	}()
	return nil
}

// Duration implements [Source].
func (s *ffmpegSource) Duration() (float64, bool) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	return s.duration, s.hasDur
}

// Close kills the decoder.
func (s *ffmpegSource) Close() error {
	if !s.shut() {
		return nil
	}
	s.pmu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.pmu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}
