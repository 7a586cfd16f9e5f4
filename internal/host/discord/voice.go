package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/MrWong99/audiobob/internal/registry"
)

// Discord voice is 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	frameDuration  = 20 * time.Millisecond
	frameSize      = opusSampleRate / 50 // samples per channel per frame
	frameSamples   = frameSize * opusChannels
	maxOpusBytes   = frameSamples * 2
)

// silentFramesBeforeIdle is how many empty frames pass before the speaking
// flag is cleared.
const silentFramesBeforeIdle = 10

// backoff is the retry schedule for joining a voice channel.
type backoff struct {
	initial time.Duration
	max     time.Duration
	retries int
}

var defaultBackoff = backoff{initial: time.Second, max: 30 * time.Second, retries: 10}

// delays returns the waits between consecutive attempts.
func (b backoff) delays() []time.Duration {
	if b.retries <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, b.retries-1)
	d := b.initial
	for range b.retries - 1 {
		out = append(out, d)
		d = min(d*2, b.max)
	}
	return out
}

// retry calls fn until it succeeds, the attempts are used up or ctx is done.
func retry[T any](ctx context.Context, b backoff, log *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	delays := b.delays()
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt > len(delays) {
			return zero, fmt.Errorf("discord: giving up after %d attempts: %w", attempt, err)
		}
		wait := delays[attempt-1]
		log.Warn("discord: voice join failed", "attempt", attempt, "retry_in", wait, "err", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}

type voice struct {
	guild   string
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (v *voice) stop() {
	v.cancel()
	<-v.done
}

// joinVoice starts playing guild's session into channel, replacing an
// earlier channel of the same guild.
func (h *Host) joinVoice(guild, channel string) {
	handle, err := guildHandle(guild)
	if err != nil {
		h.log.Warn("discord: cannot join voice", "guild", guild, "err", err)
		return
	}

	h.mu.Lock()
	if v, ok := h.voices[guild]; ok && v.channel == channel {
		h.mu.Unlock()
		return
	}
	old := h.voices[guild]
	ctx, cancel := context.WithCancel(h.ctx)
	v := &voice{guild: guild, channel: channel, cancel: cancel, done: make(chan struct{})}
	h.voices[guild] = v
	h.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go h.runVoice(ctx, handle, v)
}

// leaveVoice stops playback into guild's voice channel, if any.
func (h *Host) leaveVoice(guild string) {
	h.mu.Lock()
	v, ok := h.voices[guild]
	delete(h.voices, guild)
	h.mu.Unlock()
	if ok {
		v.stop()
	}
}

func (h *Host) runVoice(ctx context.Context, handle registry.Handle, v *voice) {
	defer close(v.done)
	log := h.log.With("guild", v.guild, "channel", v.channel)

	vc, err := retry(ctx, defaultBackoff, log, func() (*discordgo.VoiceConnection, error) {
		return h.session.ChannelVoiceJoin(v.guild, v.channel, false, true)
	})
	if err != nil {
		log.Error("discord: could not join voice channel", "err", err)
		return
	}
	defer func() {
		if err := vc.Disconnect(); err != nil {
			log.Warn("discord: voice disconnect failed", "err", err)
		}
	}()
	log.Info("discord: joined voice channel")

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	if err := h.pump(ctx, handle, vc, vc.OpusSend, ticker.C); err != nil {
		log.Error("discord: voice stopped", "err", err)
	}
}

type speaker interface {
	Speaking(b bool) error
}

// pump pulls one frame of handle's playback per tick, encodes it and sends it
// to out until ctx is done.
func (h *Host) pump(ctx context.Context, handle registry.Handle, sp speaker, out chan<- []byte, ticks <-chan time.Time) error {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("discord: create opus encoder: %w", err)
	}

	pcm := make([]int16, frameSamples)
	speaking := false
	silent := 0
	setSpeaking := func(on bool) {
		speaking = on
		if err := sp.Speaking(on); err != nil {
			h.log.Warn("discord: speaking notification failed", "speaking", on, "err", err)
		}
	}
	defer func() {
		if speaking {
			setSpeaking(false)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}

		clear(pcm)
		core := h.getCore()
		if core == nil || !core.Fill(handle, pcm, opusChannels, true) {
			if speaking {
				if silent++; silent >= silentFramesBeforeIdle {
					setSpeaking(false)
				}
			}
			continue
		}
		silent = 0
		if !speaking {
			setSpeaking(true)
		}

		packet, err := enc.Encode(pcm, frameSize, maxOpusBytes)
		if err != nil {
			h.log.Warn("discord: opus encode failed", "err", err)
			continue
		}
		select {
		case out <- packet:
		case <-ctx.Done():
			return nil
		}
	}
}
