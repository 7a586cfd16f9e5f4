// Package discord connects the bot to Discord. Each guild the bot is a member
// of becomes one connection handle; prefixed text messages become commands;
// member roles map to permission groups; and a joined voice channel plays
// the guild's session as Opus.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/registry"
)

// maxMessageLen is Discord's limit for one message.
const maxMessageLen = 2000

// ErrUnknownGuild is returned for handles that do not belong to a known guild.
var ErrUnknownGuild = errors.New("discord: unknown guild")

// Core is what the host drives. *bot.Bot implements it.
type Core interface {
	OnConnectionAdded(h registry.Handle)
	OnConnectionRemoved(h registry.Handle)
	OnIdentityResolved(ctx context.Context, h registry.Handle, uniqueID string, dbID uint64)
	OnGroupResolved(ctx context.Context, h registry.Handle, dbID, groupID uint64)
	OnTextMessage(ctx context.Context, h registry.Handle, ref, uniqueID, text string)
	Fill(h registry.Handle, pcm []int16, channels int, outgoing bool) bool
}

var _ Core = (*bot.Bot)(nil)

// Session is the part of *discordgo.Session the host calls.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

var _ Session = (*discordgo.Session)(nil)

// Config holds host settings.
type Config struct {
	// Prefix marks messages meant for the bot, e.g. "!".
	Prefix string

	// VoiceChannels maps guild ids to the voice channel to join.
	VoiceChannels map[string]string

	// RoleGroups maps role ids to permission groups. A member's group is
	// the highest group of their roles.
	RoleGroups map[string]uint64

	// ReplyRate limits replies per channel, in messages per second.
	ReplyRate float64
}

// Host implements [bot.Host] and [bot.Directory] on Discord.
type Host struct {
	session Session
	state   *discordgo.State
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	core     Core
	cfg      Config
	limiters map[string]*rate.Limiter
	voices   map[string]*voice
}

var (
	_ bot.Host      = (*Host)(nil)
	_ bot.Directory = (*Host)(nil)
)

// Option configures a [Host].
type Option func(*Host)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New returns a host using session for REST and voice calls and state for
// cached guild data. Call [Host.Attach] before events arrive.
func New(session Session, state *discordgo.State, cfg Config, opts ...Option) *Host {
	if cfg.ReplyRate <= 0 {
		cfg.ReplyRate = 2
	}
	h := &Host{
		session:  session,
		state:    state,
		log:      slog.Default(),
		cfg:      cloneConfig(cfg),
		limiters: make(map[string]*rate.Limiter),
		voices:   make(map[string]*voice),
	}
	for _, o := range opts {
		o(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

func cloneConfig(cfg Config) Config {
	cfg.VoiceChannels = maps.Clone(cfg.VoiceChannels)
	cfg.RoleGroups = maps.Clone(cfg.RoleGroups)
	return cfg
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

// Dial creates a gateway session with the intents the host needs.
func Dial(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentMessageContent
	return s, nil
}

// Run registers the event handlers on s, opens the gateway and blocks until
// ctx is done. Voice connections are left and the session closed on return.
func (h *Host) Run(ctx context.Context, s *discordgo.Session) error {
	removers := []func(){
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) { h.onGuildCreate(e.Guild) }),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) { h.onGuildDelete(e.Guild) }),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) { h.onMessage(e.Message) }),
		s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) { h.onMemberUpdate(e.Member) }),
	}
	defer func() {
		for _, rm := range removers {
			rm()
		}
	}()

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	h.log.Info("discord: connected")

	<-ctx.Done()
	h.Close()
	if err := s.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	h.log.Info("discord: disconnected")
	return nil
}

// Close leaves every voice channel and stops background work.
func (h *Host) Close() {
	h.cancel()
	h.mu.Lock()
	voices := make([]*voice, 0, len(h.voices))
	for guild, v := range h.voices {
		voices = append(voices, v)
		delete(h.voices, guild)
	}
	h.mu.Unlock()
	for _, v := range voices {
		v.stop()
	}
}

// ─── Events ──────────────────────────────────────────────────────────────────

func (h *Host) onGuildCreate(g *discordgo.Guild) {
	handle, err := guildHandle(g.ID)
	if err != nil {
		h.log.Warn("discord: unusable guild id", "guild", g.ID, "err", err)
		return
	}
	core := h.getCore()
	if core == nil {
		return
	}
	core.OnConnectionAdded(handle)

	h.mu.Lock()
	channel := h.cfg.VoiceChannels[g.ID]
	h.mu.Unlock()
	if channel != "" {
		h.joinVoice(g.ID, channel)
	}
}

func (h *Host) onGuildDelete(g *discordgo.Guild) {
	handle, err := guildHandle(g.ID)
	if err != nil {
		return
	}
	h.leaveVoice(g.ID)
	if core := h.getCore(); core != nil {
		core.OnConnectionRemoved(handle)
	}
}

func (h *Host) onMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if self := h.selfID(); self != "" && m.Author.ID == self {
		return
	}
	h.mu.Lock()
	prefix := h.cfg.Prefix
	h.mu.Unlock()
	text, ok := parseCommand(prefix, m.Content)
	if !ok {
		return
	}
	handle, err := guildHandle(m.GuildID)
	if err != nil {
		return
	}
	core := h.getCore()
	if core == nil {
		return
	}

	ctx := h.ctx
	if m.Member != nil {
		h.resolveMember(ctx, core, handle, m.Author.ID, m.Member.Roles)
	}
	core.OnTextMessage(ctx, handle, m.ChannelID, m.Author.ID, text)
}

func (h *Host) onMemberUpdate(m *discordgo.Member) {
	if m == nil || m.User == nil {
		return
	}
	handle, err := guildHandle(m.GuildID)
	if err != nil {
		return
	}
	if core := h.getCore(); core != nil {
		h.resolveMember(h.ctx, core, handle, m.User.ID, m.Roles)
	}
}

// resolveMember reports a member's identity and group. The Discord user id
// serves as both the unique id and the database id.
func (h *Host) resolveMember(ctx context.Context, core Core, handle registry.Handle, userID string, roles []string) {
	db, err := strconv.ParseUint(userID, 10, 64)
	if err != nil {
		h.log.Debug("discord: unusable user id", "user", userID, "err", err)
		return
	}
	h.mu.Lock()
	group := groupFor(h.cfg.RoleGroups, roles)
	h.mu.Unlock()

	core.OnIdentityResolved(ctx, handle, userID, db)
	core.OnGroupResolved(ctx, handle, db, group)
}

func (h *Host) selfID() string {
	if h.state == nil || h.state.User == nil {
		return ""
	}
	return h.state.User.ID
}

// ─── bot.Host ────────────────────────────────────────────────────────────────

// SendReply posts text to the channel recipient, split into chunks Discord
// accepts and throttled per channel.
func (h *Host) SendReply(ctx context.Context, _ registry.Handle, recipient, text string) error {
	lim := h.limiter(recipient)
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("discord: reply to %s: %w", recipient, err)
		}
		if _, err := h.session.ChannelMessageSend(recipient, chunk); err != nil {
			return fmt.Errorf("discord: reply to %s: %w", recipient, err)
		}
	}
	return nil
}

// QueryCurrentGroup fetches the member in the background and reports the
// result to the core.
func (h *Host) QueryCurrentGroup(_ context.Context, handle registry.Handle, uniqueID string) error {
	core := h.getCore()
	if core == nil {
		return ErrUnknownGuild
	}
	guild := strconv.FormatUint(handle, 10)
	go func() {
		m, err := h.session.GuildMember(guild, uniqueID)
		if err != nil {
			h.log.Warn("discord: member lookup failed", "guild", guild, "user", uniqueID, "err", err)
			return
		}
		h.resolveMember(h.ctx, core, handle, uniqueID, m.Roles)
	}()
	return nil
}

func (h *Host) limiter(channel string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.cfg.ReplyRate), 3)
		h.limiters[channel] = lim
	}
	return lim
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reconfigure applies a changed configuration: role mappings and the reply
// rate take effect for the next event, and voice channels are joined or left
// to match.
func (h *Host) Reconfigure(cfg Config) {
	cfg = cloneConfig(cfg)
	if cfg.ReplyRate <= 0 {
		cfg.ReplyRate = 2
	}

	h.mu.Lock()
	old := h.cfg.VoiceChannels
	h.cfg.RoleGroups = cfg.RoleGroups
	h.cfg.VoiceChannels = cfg.VoiceChannels
	if cfg.ReplyRate != h.cfg.ReplyRate {
		h.cfg.ReplyRate = cfg.ReplyRate
		for _, lim := range h.limiters {
			lim.SetLimit(rate.Limit(cfg.ReplyRate))
		}
	}
	h.mu.Unlock()

	for guild, ch := range old {
		if nc, ok := cfg.VoiceChannels[guild]; !ok || nc != ch {
			h.leaveVoice(guild)
		}
	}
	for guild, ch := range cfg.VoiceChannels {
		if oc, ok := old[guild]; !ok || oc != ch {
			h.joinVoice(guild, ch)
		}
	}
	h.log.Info("discord: configuration applied", "voice_channels", len(cfg.VoiceChannels), "role_groups", len(cfg.RoleGroups))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func guildHandle(id string) (registry.Handle, error) {
	h, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("discord: guild id %q: %w", id, err)
	}
	return h, nil
}

// parseCommand strips prefix from content. It reports false for messages
// that do not start with prefix or hold nothing after it.
func parseCommand(prefix, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	text := strings.TrimSpace(content[len(prefix):])
	return text, text != ""
}

// groupFor returns the highest group among roles, 0 when none is mapped.
func groupFor(roleGroups map[string]uint64, roles []string) uint64 {
	var g uint64
	for _, r := range roles {
		g = max(g, roleGroups[r])
	}
	return g
}

// splitMessage cuts text into pieces of at most limit bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
