// Package console runs the bot against a terminal: every input line is a
// command from a single local user, replies are printed, and the mixed
// output can be written as raw s16le 48 kHz stereo for inspection or piping
// into a player.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/registry"
)

// The console has one connection and one user.
const (
	Handle registry.Handle = 1
	UserID                 = "console"
	DBID   uint64          = 1
)

const (
	sampleRate    = 48000
	channels      = 2
	frameDuration = 20 * time.Millisecond
	frameFrames   = sampleRate / 50
)

// Core is what the host drives. *bot.Bot implements it.
type Core interface {
	OnConnectionAdded(h registry.Handle)
	OnConnectionRemoved(h registry.Handle)
	OnIdentityResolved(ctx context.Context, h registry.Handle, uniqueID string, dbID uint64)
	OnGroupResolved(ctx context.Context, h registry.Handle, dbID, groupID uint64)
	OnTextMessage(ctx context.Context, h registry.Handle, ref, uniqueID, text string)
	OnFillAudioBuffer(h registry.Handle, buf []byte, frames, channels int, outgoing bool) bool
}

var _ Core = (*bot.Bot)(nil)

// Config holds host settings.
type Config struct {
	// Group is the permission group of the local user.
	Group uint64

	// Prefix is stripped from lines that carry it. Lines without it are
	// still treated as commands.
	Prefix string

	// PCM receives the output audio. Nil discards it.
	PCM io.Writer
}

// Host implements [bot.Host] on a line-oriented terminal.
type Host struct {
	in  io.Reader
	cfg Config
	log *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu   sync.Mutex
	core Core
}

var _ bot.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New returns a host reading commands from in and printing replies to out.
func New(in io.Reader, out io.Writer, cfg Config, opts ...Option) *Host {
	h := &Host{in: in, out: out, cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Attach sets the core receiving events.
func (h *Host) Attach(c Core) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.core = c
}

func (h *Host) getCore() Core {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.core
}

// Run registers the console connection and processes input until it ends or
// ctx is done.
func (h *Host) Run(ctx context.Context) error {
	core := h.getCore()
	if core == nil {
		return fmt.Errorf("console: no core attached")
	}
	core.OnConnectionAdded(Handle)
	defer core.OnConnectionRemoved(Handle)
	core.OnIdentityResolved(ctx, Handle, UserID, DBID)
	core.OnGroupResolved(ctx, Handle, DBID, h.cfg.Group)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if h.cfg.PCM != nil {
		g.Go(func() error { return h.pump(gctx, core) })
	}
	g.Go(func() error {
		defer cancel()
		return h.read(gctx, core)
	})
	return g.Wait()
}

func (h *Host) read(ctx context.Context, core Core) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("console: read input: %w", err)
					}
				default:
				}
				h.log.Info("console: input closed")
				return nil
			}
			text := strings.TrimSpace(line)
			if h.cfg.Prefix != "" {
				text = strings.TrimSpace(strings.TrimPrefix(text, h.cfg.Prefix))
			}
			if text == "" {
				continue
			}
			core.OnTextMessage(ctx, Handle, UserID, UserID, text)
		}
	}
}

// pump writes one 20 ms frame per tick. Silence is written when nothing
// plays so the output keeps real time.
func (h *Host) pump(ctx context.Context, core Core) error {
	buf := make([]byte, frameFrames*channels*2)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		clear(buf)
		core.OnFillAudioBuffer(Handle, buf, frameFrames, channels, true)
		if _, err := h.cfg.PCM.Write(buf); err != nil {
			return fmt.Errorf("console: write pcm: %w", err)
		}
	}
}

// SendReply prints text, one line per reply line.
func (h *Host) SendReply(_ context.Context, _ registry.Handle, _ string, text string) error {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if _, err := fmt.Fprintln(h.out, text); err != nil {
		return fmt.Errorf("console: write reply: %w", err)
	}
	return nil
}

// QueryCurrentGroup reports the configured group again.
func (h *Host) QueryCurrentGroup(ctx context.Context, handle registry.Handle, _ string) error {
	core := h.getCore()
	if core == nil {
		return fmt.Errorf("console: no core attached")
	}
	go core.OnGroupResolved(context.WithoutCancel(ctx), handle, DBID, h.cfg.Group)
	return nil
}
