package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/audiobob/internal/command"
	"github.com/MrWong99/audiobob/internal/media"
	"github.com/MrWong99/audiobob/internal/registry"
	"github.com/MrWong99/audiobob/internal/session"
)

const exitCommand = "exit"

var quitMessages = []string{
	"I'm outta here",
	"You're boring",
	"Have a nice day",
	"Bye",
	"Good night",
	"Nothing to do here",
	"Taking a break",
	"Lorem ipsum dolor sit amet…",
	"Nothing can hold me back",
	"It's getting quiet",
	"Drop the bazzzzzz",
	"Never gonna give you up",
	"Never gonna let you down",
	"Keep rockin' it",
	"?",
	"I'll be back",
	"Your advertisement could be here",
	"connection lost",
	"disconnected",
}

var (
	errBusy        = errors.New("too many sources are loading, try again shortly")
	errNoDirectory = errors.New("this host cannot list clients or channels")
)

const nothingPlaying = "Nothing is playing"

// commands builds the command table.
func (b *Bot) commands() *command.Table {
	root := command.NewTable()

	root.MustRegister(
		command.Descriptor{
			Name: "help", Description: "Show this list", Visible: true,
			Access: command.Anyone, Handler: b.help(root),
		},
		command.Descriptor{
			Name: "ping", Description: "Check that the bot is alive", Visible: true,
			Access: command.Anyone, Handler: b.ping,
		},
		command.Descriptor{
			Name: "audio", Kinds: []command.Kind{command.KindBool},
			Description: "Turn audio output on or off", Visible: true,
			Access: command.AdminOnly, Handler: b.setAudio,
		},
		command.Descriptor{
			Name: "quality", Kinds: []command.Kind{command.KindBool},
			Description: "Switch between high (48 kHz) and low (24 kHz) quality", Visible: true,
			Access: command.AdminOnly, Handler: b.setQuality,
		},
		command.Descriptor{
			Name: exitCommand, Description: "Shut the bot down", Visible: true,
			Access: command.AdminOnly, Handler: b.exit,
		},
		command.Descriptor{
			Name: "error", Kinds: []command.Kind{command.KindString},
			Description: "Fail with the given text",
			Access:      command.AdminOnly, Handler: b.fail,
		},
	)

	music := root.Group("music", "Play audio files and streams")
	music.MustRegister(
		command.Descriptor{
			Name: "start", Kinds: []command.Kind{command.KindString},
			Description: "Play a file, URL or stream", Visible: true,
			Access: command.Anyone, Handler: b.musicStart,
		},
		command.Descriptor{
			Name: "stop", Description: "Stop playback", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicStop),
		},
		command.Descriptor{
			Name: "pause", Description: "Pause playback", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicPause),
		},
		command.Descriptor{
			Name: "unpause", Description: "Resume playback", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicUnpause),
		},
		command.Descriptor{
			Name: "volume", Kinds: []command.Kind{command.KindFloat},
			Description: "Set the volume, 1 is unchanged", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicVolume),
		},
		command.Descriptor{
			Name: "seek", Kinds: []command.Kind{command.KindFloat},
			Description: "Jump to a position in seconds", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicSeek),
		},
		command.Descriptor{
			Name: "loop", Kinds: []command.Kind{command.KindBool},
			Description: "Repeat the current track", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicLoop),
		},
		command.Descriptor{
			Name: "address", Description: "Show what is playing", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.musicAddress),
		},
	)

	whisper := root.Group("whisper", "Speak to selected clients or channels only")
	whisper.MustRegister(
		command.Descriptor{
			Name: "client add", Kinds: []command.Kind{command.KindInt},
			Description: "Add a client to the whisper list", Visible: true,
			Access: command.AdminOnly, Handler: b.withSession(b.whisperClientAdd),
		},
		command.Descriptor{
			Name: "client remove", Kinds: []command.Kind{command.KindInt},
			Description: "Remove a client from the whisper list", Visible: true,
			Access: command.AdminOnly, Handler: b.withSession(b.whisperClientRemove),
		},
		command.Descriptor{
			Name: "channel add", Kinds: []command.Kind{command.KindInt},
			Description: "Add a channel to the whisper list", Visible: true,
			Access: command.AdminOnly, Handler: b.withSession(b.whisperChannelAdd),
		},
		command.Descriptor{
			Name: "channel remove", Kinds: []command.Kind{command.KindInt},
			Description: "Remove a channel from the whisper list", Visible: true,
			Access: command.AdminOnly, Handler: b.withSession(b.whisperChannelRemove),
		},
		command.Descriptor{
			Name: "clear", Description: "Speak to everyone again", Visible: true,
			Access: command.AdminOnly, Handler: b.withSession(b.whisperClear),
		},
	)

	status := root.Group("status", "Show the bot's state")
	status.MustRegister(
		command.Descriptor{
			Name: "audio", Description: "Audio output and quality", Visible: true,
			Access: command.Anyone, Handler: b.statusAudio,
		},
		command.Descriptor{
			Name: "whisper", Description: "Whisper targets", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.statusWhisper),
		},
		command.Descriptor{
			Name: "music", Description: "Current track", Visible: true,
			Access: command.Anyone, Handler: b.withSession(b.statusMusic),
		},
	)

	list := root.Group("list", "List what is on this server")
	list.MustRegister(
		command.Descriptor{
			Name: "clients", Description: "Connected clients", Visible: true,
			Access: command.Anyone, Handler: b.listClients,
		},
		command.Descriptor{
			Name: "channels", Description: "Channels", Visible: true,
			Access: command.Anyone, Handler: b.listChannels,
		},
	)

	// "help <group>" is matched before "help" because lookup prefers the
	// longest name.
	for _, g := range []*command.Table{music, whisper, status, list} {
		root.MustRegister(command.Descriptor{
			Name:        "help " + g.Prefix(),
			Description: "Show the " + g.Prefix() + " commands",
			Access:      command.Anyone,
			Handler:     b.help(g),
		})
	}
	return root
}

// withSession resolves the caller's session before running fn.
func (b *Bot) withSession(fn func(ctx context.Context, call *command.Call, sess *session.Session) command.Result) command.Handler {
	return func(ctx context.Context, call *command.Call) command.Result {
		sess, err := b.reg.Session(call.Conn)
		if err != nil {
			return command.Fail(err)
		}
		return fn(ctx, call, sess)
	}
}

// ─── Root ────────────────────────────────────────────────────────────────────

func (b *Bot) help(t *command.Table) command.Handler {
	return func(context.Context, *command.Call) command.Result {
		return command.Reply(renderHelp(t))
	}
}

func (b *Bot) ping(context.Context, *command.Call) command.Result {
	return command.Reply("pong")
}

// setAudio and setQuality change every session, and sessions created later
// inherit the setting.
func (b *Bot) setAudio(_ context.Context, call *command.Call) command.Result {
	on := call.Args[0].Bool()
	b.audioOn.Store(on)
	for _, h := range b.reg.Handles() {
		if sess, err := b.reg.Session(h); err == nil {
			sess.SetEnabled(on)
		}
	}
	if on {
		return command.Reply("Audio enabled")
	}
	return command.Reply("Audio disabled")
}

func (b *Bot) setQuality(_ context.Context, call *command.Call) command.Result {
	high := call.Args[0].Bool()
	b.high.Store(high)
	for _, h := range b.reg.Handles() {
		if sess, err := b.reg.Session(h); err == nil {
			sess.SetQuality(high)
		}
	}
	return command.Reply("Quality: " + qualityName(high))
}

func (b *Bot) exit(context.Context, *command.Call) command.Result {
	return command.Reply(quitMessages[b.random(len(quitMessages))])
}

func (b *Bot) fail(_ context.Context, call *command.Call) command.Result {
	return command.Fail(errors.New(call.Args[0].Text()))
}

// ─── Music ───────────────────────────────────────────────────────────────────

func (b *Bot) musicStart(_ context.Context, call *command.Call) command.Result {
	sess, err := b.reg.Session(call.Conn)
	if err != nil {
		return command.Fail(err)
	}
	descriptor := call.Args[0].Text()
	t := sess.Begin(descriptor)

	h, ref := call.Conn, call.Caller.Ref
	if !b.loads.TryGo(func() error {
		b.acquire(h, ref, sess, t)
		return nil
	}) {
		sess.Fail(t, errBusy)
		return command.Fail(errBusy)
	}
	return command.Replyf("Loading %q", descriptor)
}

// acquire opens t's descriptor off the dispatching goroutine and installs the
// source. A current acquisition that fails is reported to ref exactly once;
// superseded ones only close what they opened.
func (b *Bot) acquire(h registry.Handle, ref string, sess *session.Session, t session.Ticket) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.OpenTimeout)
	defer cancel()

	scheme := media.Scheme(t.Descriptor)
	log := b.log.With("handle", h, "descriptor", t.Descriptor)

	src, err := b.opener.Open(ctx, t.Descriptor)
	if err == nil && !src.Format().Valid() {
		err = fmt.Errorf("%w: invalid format %v", media.ErrSourceUnavailable, src.Format())
		_ = src.Close()
	}
	if err != nil {
		b.metrics.RecordSourceOpen(context.Background(), scheme, "error")
		if !errors.Is(err, media.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", media.ErrSourceUnavailable, err)
		}
		if sess.Fail(t, err) {
			log.Warn("bot: source unavailable", "err", err)
			b.reply(b.ctx, h, ref, fmt.Sprintf("Could not play %q: source unavailable", t.Descriptor))
			return
		}
		log.Debug("bot: superseded acquisition failed", "err", err)
		return
	}

	if err := sess.Complete(t, src); err != nil {
		b.metrics.RecordSourceOpen(context.Background(), scheme, "superseded")
		log.Debug("bot: acquisition discarded", "err", err)
		return
	}
	b.metrics.RecordSourceOpen(context.Background(), scheme, "ok")
	log.Info("bot: playing")
}

func (b *Bot) musicStop(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	if !sess.Stop() {
		return command.Reply(nothingPlaying)
	}
	return command.Reply("Stopped")
}

func (b *Bot) musicPause(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	if err := sess.Pause(); err != nil {
		return command.Reply(nothingPlaying)
	}
	return command.Reply("Paused")
}

func (b *Bot) musicUnpause(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	if err := sess.Unpause(); err != nil {
		return command.Reply(nothingPlaying)
	}
	return command.Reply("Resumed")
}

func (b *Bot) musicVolume(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	v := sess.SetVolume(call.Args[0].Float())
	return command.Replyf("Volume set to %.2f", v)
}

func (b *Bot) musicSeek(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	pos, err := sess.Seek(call.Args[0].Float())
	switch {
	case errors.Is(err, session.ErrNoSource):
		return command.Reply(nothingPlaying)
	case errors.Is(err, session.ErrLoading):
		return command.Reply("Still loading, try again shortly")
	case errors.Is(err, media.ErrNotSeekable):
		return command.Reply("This stream cannot seek")
	case err != nil:
		return command.Fail(err)
	}
	return command.Reply("Position: " + formatClock(pos))
}

func (b *Bot) musicLoop(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	on := call.Args[0].Bool()
	sess.SetLooping(on)
	if on {
		return command.Reply("Looping enabled")
	}
	return command.Reply("Looping disabled")
}

func (b *Bot) musicAddress(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	d := sess.Descriptor()
	if d == "" {
		return command.Reply(nothingPlaying)
	}
	return command.Reply(d)
}

// ─── Whisper ─────────────────────────────────────────────────────────────────

func (b *Bot) whisperClientAdd(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	id := call.Args[0].Int()
	if !sess.AddWhisperClient(id) {
		return command.Replyf("Client %d is already on the whisper list", id)
	}
	b.pushWhisper(call.Conn, sess)
	return command.Replyf("Whispering to client %d", id)
}

func (b *Bot) whisperClientRemove(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	id := call.Args[0].Int()
	if !sess.RemoveWhisperClient(id) {
		return command.Replyf("Client %d is not on the whisper list", id)
	}
	b.pushWhisper(call.Conn, sess)
	return command.Replyf("Stopped whispering to client %d", id)
}

func (b *Bot) whisperChannelAdd(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	id := call.Args[0].Int()
	if !sess.AddWhisperChannel(id) {
		return command.Replyf("Channel %d is already on the whisper list", id)
	}
	b.pushWhisper(call.Conn, sess)
	return command.Replyf("Whispering to channel %d", id)
}

func (b *Bot) whisperChannelRemove(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	id := call.Args[0].Int()
	if !sess.RemoveWhisperChannel(id) {
		return command.Replyf("Channel %d is not on the whisper list", id)
	}
	b.pushWhisper(call.Conn, sess)
	return command.Replyf("Stopped whispering to channel %d", id)
}

func (b *Bot) whisperClear(_ context.Context, call *command.Call, sess *session.Session) command.Result {
	if sess.ClearWhisper() {
		b.pushWhisper(call.Conn, sess)
	}
	return command.Reply("Speaking to everyone")
}

// pushWhisper hands the session's whisper lists to the transport, if the
// host has one that can route them.
func (b *Bot) pushWhisper(h registry.Handle, sess *session.Session) {
	sink, ok := b.host.(WhisperSink)
	if !ok {
		return
	}
	clients, channels := sess.WhisperTargets()
	if err := sink.SetWhisperTargets(h, clients, channels); err != nil {
		b.log.Warn("bot: whisper targets not applied", "handle", h, "err", err)
	}
}

// ─── Status and lists ────────────────────────────────────────────────────────

func (b *Bot) statusAudio(context.Context, *command.Call) command.Result {
	return command.Reply(renderAudioStatus(b.audioOn.Load(), b.high.Load()))
}

func (b *Bot) statusWhisper(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	clients, channels := sess.WhisperTargets()
	return command.Reply(renderWhisperStatus(clients, channels))
}

func (b *Bot) statusMusic(_ context.Context, _ *command.Call, sess *session.Session) command.Result {
	return command.Reply(renderMusicStatus(sess.Snapshot()))
}

func (b *Bot) listClients(ctx context.Context, call *command.Call) command.Result {
	dir, ok := b.host.(Directory)
	if !ok {
		return command.Fail(errNoDirectory)
	}
	clients, err := dir.Clients(ctx, call.Conn)
	if err != nil {
		return command.Fail(fmt.Errorf("list clients: %w", err))
	}
	return command.Reply(renderClients(clients))
}

func (b *Bot) listChannels(ctx context.Context, call *command.Call) command.Result {
	dir, ok := b.host.(Directory)
	if !ok {
		return command.Fail(errNoDirectory)
	}
	channels, err := dir.Channels(ctx, call.Conn)
	if err != nil {
		return command.Fail(fmt.Errorf("list channels: %w", err))
	}
	return command.Reply(renderChannels(channels))
}
