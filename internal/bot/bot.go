// Package bot wires the command dispatcher, the connection registry and the
// per-connection audio sessions to a chat host.
//
// A host adapter (Discord, the console, a test) reports connection, identity
// and message events through the On* methods and pulls outgoing audio through
// [Bot.OnFillAudioBuffer]. The bot answers through the [Host] interface the
// adapter implements. All methods are safe for concurrent use; the fill path
// never blocks on a command handler or a source being opened.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiobob/internal/command"
	"github.com/MrWong99/audiobob/internal/media"
	"github.com/MrWong99/audiobob/internal/observe"
	"github.com/MrWong99/audiobob/internal/registry"
	"github.com/MrWong99/audiobob/internal/session"
	"github.com/MrWong99/audiobob/pkg/audio"
)

// Host is what the bot needs from the chat platform.
type Host interface {
	// SendReply delivers text to recipient on connection h.
	SendReply(ctx context.Context, h registry.Handle, recipient, text string) error

	// QueryCurrentGroup asks the platform for the group of uniqueID on h.
	// It must not wait for the answer: the host reports it later through
	// [Bot.OnIdentityResolved] and [Bot.OnGroupResolved].
	QueryCurrentGroup(ctx context.Context, h registry.Handle, uniqueID string) error
}

// WhisperSink is implemented by hosts whose voice transport can route audio
// to a subset of clients or channels. Hosts without it still record whisper
// lists in the session.
type WhisperSink interface {
	SetWhisperTargets(h registry.Handle, clients, channels []int64) error
}

// Directory is implemented by hosts that can enumerate who and what is on a
// connection.
type Directory interface {
	Clients(ctx context.Context, h registry.Handle) ([]Client, error)
	Channels(ctx context.Context, h registry.Handle) ([]Channel, error)
}

// Client is one user visible on a connection.
type Client struct {
	ID        int64
	Name      string
	ChannelID int64
}

// Channel is one channel on a connection. ParentID is 0 for top-level
// channels.
type Channel struct {
	ID       int64
	Name     string
	ParentID int64
}

// Config holds bot settings.
type Config struct {
	// AdminGroup is the group required by admin commands.
	AdminGroup uint64

	// PendingTimeout and PendingLimit bound invocations waiting for a
	// caller's group. Zero selects the dispatcher defaults.
	PendingTimeout time.Duration
	PendingLimit   int

	// MaxLoads caps concurrent source acquisitions. Default: 4.
	MaxLoads int

	// OpenTimeout bounds a single source acquisition. Default: 15s.
	OpenTimeout time.Duration

	// Authorizer overrides the default group threshold policy.
	Authorizer command.Authorizer
}

// Option configures a [Bot].
type Option func(*Bot)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.log = l }
}

// WithMetrics sets the instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithShutdown registers fn to be called once after the exit command was
// answered.
func WithShutdown(fn func()) Option {
	return func(b *Bot) { b.shutdown = fn }
}

// WithRandom replaces the source used to pick quit messages. fn returns a
// value in [0, n).
func WithRandom(fn func(n int) int) Option {
	return func(b *Bot) { b.random = fn }
}

// WithVolume sets the volume of new sessions. Default: 1.
func WithVolume(v float64) Option {
	return func(b *Bot) { b.volume = v }
}

// WithClock replaces the dispatcher's clock.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// Bot is the orchestrator. Create it with [New] and release it with
// [Bot.Close].
type Bot struct {
	host     Host
	opener   media.Opener
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	shutdown func()
	random   func(int) int
	volume   float64
	now      func() time.Time

	reg   *registry.Registry
	table *command.Table
	disp  *command.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	loads  *errgroup.Group

	audioOn atomic.Bool
	high    atomic.Bool
	pending atomic.Int64

	exitOnce  sync.Once
	closeOnce sync.Once

	scratch sync.Pool
}

// New builds a bot answering through host and opening sources with opener.
func New(host Host, opener media.Opener, cfg Config, opts ...Option) *Bot {
	if cfg.MaxLoads <= 0 {
		cfg.MaxLoads = 4
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	b := &Bot{
		host:     host,
		opener:   opener,
		cfg:      cfg,
		log:      slog.Default(),
		shutdown: func() {},
		random:   rand.IntN,
		volume:   1,
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.audioOn.Store(true)
	b.high.Store(true)

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.loads = &errgroup.Group{}
	b.loads.SetLimit(cfg.MaxLoads)
	b.scratch.New = func() any {
		buf := make([]int16, 0, 1920)
		return &buf
	}

	b.reg = registry.New(
		registry.WithFactory(b.newSession),
		registry.WithHooks(b.connectionAdded, b.connectionRemoved),
	)
	b.table = b.commands()
	b.disp = command.NewDispatcher(b.table, command.Config{
		AdminGroup:     cfg.AdminGroup,
		PendingTimeout: cfg.PendingTimeout,
		PendingLimit:   cfg.PendingLimit,
		Authorizer:     cfg.Authorizer,
	}, command.WithClock(b.now), command.WithLogger(b.log))
	return b
}

// Table returns the command table.
func (b *Bot) Table() *command.Table { return b.table }

// Registry returns the connection registry.
func (b *Bot) Registry() *registry.Registry { return b.reg }

// Connections returns the number of registered connections.
func (b *Bot) Connections() int { return b.reg.Len() }

// Close cancels running acquisitions, waits for them and removes every
// connection. It is safe to call more than once.
func (b *Bot) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		_ = b.loads.Wait()
		b.reg.Close()
	})
}

func (b *Bot) newSession(h registry.Handle) *session.Session {
	s := session.New(
		session.WithVolume(b.volume),
		session.WithLogger(b.log.With("handle", h)),
		session.WithUnderrunHook(func() { b.metrics.RecordUnderrun(context.Background()) }),
	)
	s.SetEnabled(b.audioOn.Load())
	s.SetQuality(b.high.Load())
	return s
}

func (b *Bot) connectionAdded(h registry.Handle) {
	b.metrics.ActiveConnections.Add(context.Background(), 1)
	b.log.Info("bot: connection added", "handle", h)
}

func (b *Bot) connectionRemoved(h registry.Handle) {
	b.metrics.ActiveConnections.Add(context.Background(), -1)
	if n := b.disp.Forget(h); n > 0 {
		b.log.Debug("bot: dropped pending invocations", "handle", h, "count", n)
	}
	b.syncPending(context.Background())
	b.log.Info("bot: connection removed", "handle", h)
}

// ─── Host events ─────────────────────────────────────────────────────────────

// OnConnectionAdded registers h. A duplicate event keeps the existing session.
func (b *Bot) OnConnectionAdded(h registry.Handle) {
	if !b.reg.Add(h) {
		b.log.Debug("bot: duplicate connection added event", "handle", h)
	}
}

// OnConnectionRemoved releases h and everything queued for it. Unknown
// handles are ignored.
func (b *Bot) OnConnectionRemoved(h registry.Handle) {
	if !b.reg.Remove(h) {
		b.log.Debug("bot: removal of unknown connection", "handle", h)
	}
}

// OnIdentityResolved records the database id of uniqueID on h and replays
// its pending commands if the group is already known.
func (b *Bot) OnIdentityResolved(ctx context.Context, h registry.Handle, uniqueID string, dbID uint64) {
	if err := b.reg.ResolveIdentity(h, uniqueID, dbID); err != nil {
		b.log.Debug("bot: identity for unknown connection", "handle", h, "err", err)
		return
	}
	b.resume(ctx, h, uniqueID)
}

// OnGroupResolved records the group of dbID on h and replays the pending
// commands of every caller mapped to it.
func (b *Bot) OnGroupResolved(ctx context.Context, h registry.Handle, dbID, groupID uint64) {
	uids, err := b.reg.ResolveGroup(h, dbID, groupID)
	if err != nil {
		b.log.Debug("bot: group for unknown connection", "handle", h, "err", err)
		return
	}
	for _, uid := range uids {
		b.resume(ctx, h, uid)
	}
}

func (b *Bot) resume(ctx context.Context, h registry.Handle, uniqueID string) {
	caller, err := b.reg.Caller(h, "", uniqueID)
	if err != nil || !caller.Resolved {
		return
	}
	for _, out := range b.disp.Resume(ctx, h, caller) {
		b.deliver(ctx, out)
	}
	b.syncPending(ctx)
}

// OnTextMessage dispatches one chat line sent by uniqueID on h. ref is the
// host's reply address for the sender. The command prefix, if the host uses
// one, must already be stripped.
func (b *Bot) OnTextMessage(ctx context.Context, h registry.Handle, ref, uniqueID, text string) {
	b.Sweep(ctx)

	caller, err := b.reg.Caller(h, ref, uniqueID)
	if err != nil {
		b.log.Debug("bot: message on unknown connection", "handle", h, "err", err)
		return
	}
	inv := command.Invocation{ID: uuid.NewString(), Conn: h, Caller: caller, Message: text}

	ctx, span := observe.StartCommandSpan(ctx, inv.ID, h)
	defer span.End()

	out := b.disp.Dispatch(ctx, inv)
	observe.EndCommandSpan(span, out.Command, out.Stage.String())

	if out.Stage == command.StagePending {
		b.syncPending(ctx)
		b.metrics.RecordCommand(ctx, out.Command, out.Stage.String(), 0, false)
		// The group may have resolved after the lookup above, in which case
		// its resume already ran against an empty queue.
		if latest, err := b.reg.Caller(h, ref, uniqueID); err == nil && latest.Resolved {
			b.resume(ctx, h, uniqueID)
			return
		}
		if err := b.host.QueryCurrentGroup(ctx, h, uniqueID); err != nil {
			observe.Logger(ctx).Warn("bot: group query failed", "handle", h, "uid", uniqueID, "err", err)
		}
		return
	}
	b.deliver(ctx, out)
}

// Sweep rejects pending invocations that waited longer than the pending
// timeout and tells their senders.
func (b *Bot) Sweep(ctx context.Context) {
	outs := b.disp.Sweep()
	for _, out := range outs {
		b.deliver(ctx, out)
	}
	if len(outs) > 0 {
		b.syncPending(ctx)
	}
}

// deliver records out and sends its reply.
func (b *Bot) deliver(ctx context.Context, out command.Outcome) {
	executed := out.Stage == command.StageExecuted
	b.metrics.RecordCommand(ctx, out.Command, out.Stage.String(), out.Elapsed, executed)

	log := observe.Logger(ctx).With("id", out.Invocation.ID, "handle", out.Invocation.Conn, "command", out.Command)
	if out.Err != nil {
		var herr *command.HandlerError
		if errors.As(out.Err, &herr) {
			log.Warn("bot: command failed", "err", out.Err)
		} else {
			log.Info("bot: command rejected", "stage", out.Stage, "err", out.Err)
		}
	} else {
		log.Debug("bot: command done", "stage", out.Stage, "elapsed", out.Elapsed)
	}

	if out.Reply != "" && !out.Silent {
		b.reply(ctx, out.Invocation.Conn, out.Invocation.Caller.Ref, out.Reply)
	}
	if executed && out.Err == nil && out.Command == exitCommand {
		b.exitOnce.Do(b.shutdown)
	}
}

func (b *Bot) reply(ctx context.Context, h registry.Handle, ref, text string) {
	if err := b.host.SendReply(ctx, h, ref, text); err != nil {
		b.log.Warn("bot: reply failed", "handle", h, "recipient", ref, "err", err)
	}
}

func (b *Bot) syncPending(ctx context.Context) {
	n := int64(b.disp.Pending())
	if delta := n - b.pending.Swap(n); delta != 0 {
		b.metrics.PendingInvocations.Add(ctx, delta)
	}
}

// ─── Audio ───────────────────────────────────────────────────────────────────

// Fill mixes the playback of h into pcm, interleaved with channels channels.
// It reports whether audible samples were added. Unknown handles and
// incoming buffers are left untouched.
func (b *Bot) Fill(h registry.Handle, pcm []int16, channels int, outgoing bool) bool {
	sess, err := b.reg.Session(h)
	if err != nil {
		return false
	}
	return sess.Pull(pcm, channels, outgoing)
}

// OnFillAudioBuffer is the s16le form of [Bot.Fill]: buf holds frames frames
// of channels interleaved little-endian samples. buf is rewritten only when
// the result is true.
func (b *Bot) OnFillAudioBuffer(h registry.Handle, buf []byte, frames, channels int, outgoing bool) bool {
	n := frames * channels
	if !outgoing || n <= 0 || len(buf) < 2*n {
		return false
	}
	start := time.Now()

	sp := b.scratch.Get().(*[]int16)
	pcm := audio.BytesToInt16s((*sp)[:0], buf[:2*n])
	filled := b.Fill(h, pcm, channels, outgoing)
	if filled {
		audio.Int16sToBytes(buf, pcm)
	}
	*sp = pcm
	b.scratch.Put(sp)

	b.metrics.RecordFill(context.Background(), time.Since(start), filled)
	return filled
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// ConnectionSnapshot is the state of one connection for diagnostics.
type ConnectionSnapshot struct {
	Handle registry.Handle `json:"handle"`
	session.Snapshot
}

// Snapshots returns the state of every connection in handle order.
func (b *Bot) Snapshots() []ConnectionSnapshot {
	hs := b.reg.Handles()
	out := make([]ConnectionSnapshot, 0, len(hs))
	for _, h := range hs {
		sess, err := b.reg.Session(h)
		if err != nil {
			continue
		}
		out = append(out, ConnectionSnapshot{Handle: h, Snapshot: sess.Snapshot()})
	}
	return out
}

// Snapshot returns the state of one connection.
func (b *Bot) Snapshot(h registry.Handle) (ConnectionSnapshot, error) {
	sess, err := b.reg.Session(h)
	if err != nil {
		return ConnectionSnapshot{}, err
	}
	return ConnectionSnapshot{Handle: h, Snapshot: sess.Snapshot()}, nil
}
