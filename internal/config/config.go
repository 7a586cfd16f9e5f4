// Package config defines the audiobob configuration schema and loads it from
// YAML with an environment overlay.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog converts l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised format.
func (f LogFormat) IsValid() bool { return f == FormatText || f == FormatJSON }

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"  envPrefix:"SERVER_"`
	Bot     BotConfig     `yaml:"bot"     envPrefix:"BOT_"`
	Media   MediaConfig   `yaml:"media"   envPrefix:"MEDIA_"`
	Discord DiscordConfig `yaml:"discord" envPrefix:"DISCORD_"`
	Console ConsoleConfig `yaml:"console" envPrefix:"CONSOLE_"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// ListenAddr is the admin HTTP address serving health, metrics and
	// debug endpoints. Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	LogLevel  LogLevel  `yaml:"log_level"  env:"LOG_LEVEL"`
	LogFormat LogFormat `yaml:"log_format" env:"LOG_FORMAT"`
}

// BotConfig tunes command handling and playback.
type BotConfig struct {
	// AdminGroup is the group id admin-only commands require.
	AdminGroup uint64 `yaml:"admin_group" env:"ADMIN_GROUP"`

	// CommandPrefix marks chat messages addressed to the bot. Default: "!".
	CommandPrefix string `yaml:"command_prefix" env:"COMMAND_PREFIX"`

	// PendingTimeout bounds how long a command waits for the sender's
	// group to resolve. Default: 10s.
	PendingTimeout time.Duration `yaml:"pending_timeout" env:"PENDING_TIMEOUT"`

	// PendingLimit caps queued commands per sender. Default: 8.
	PendingLimit int `yaml:"pending_limit" env:"PENDING_LIMIT"`

	// MaxLoads caps concurrent media acquisitions. Default: 4.
	MaxLoads int `yaml:"max_loads" env:"MAX_LOADS"`

	// OpenTimeout bounds one media acquisition. Default: 15s.
	OpenTimeout time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT"`

	// DefaultVolume is the volume of new sessions. Default: 1.
	DefaultVolume *float64 `yaml:"default_volume" env:"DEFAULT_VOLUME"`
}

// Volume returns the configured default volume.
func (b BotConfig) Volume() float64 {
	if b.DefaultVolume == nil {
		return 1
	}
	return *b.DefaultVolume
}

// MediaConfig configures the media source openers.
type MediaConfig struct {
	// FFmpegPath is the decoder executable. Default: "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`

	// BufferMS is how much decoded audio is held ahead. Default: 2000.
	BufferMS int `yaml:"buffer_ms" env:"BUFFER_MS"`

	// BreakerFailures is the number of consecutive decoder failures that
	// open the circuit. Default: 5.
	BreakerFailures int `yaml:"breaker_failures" env:"BREAKER_FAILURES"`

	// BreakerReset is how long the circuit stays open. Default: 30s.
	BreakerReset time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET"`
}

// Buffer returns BufferMS as a duration.
func (m MediaConfig) Buffer() time.Duration {
	return time.Duration(m.BufferMS) * time.Millisecond
}

// DiscordConfig configures the Discord host. An empty token disables it.
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`

	// VoiceChannels maps guild id to the voice channel joined on startup.
	VoiceChannels map[string]string `yaml:"voice_channels" env:"VOICE_CHANNELS"`

	// RoleGroups maps role id to group level. A member's group is the
	// highest level among their roles.
	RoleGroups map[string]uint64 `yaml:"role_groups" env:"ROLE_GROUPS"`

	// ReplyRate limits replies per text channel, in messages per second.
	// Default: 2.
	ReplyRate float64 `yaml:"reply_rate" env:"REPLY_RATE"`
}

// Enabled reports whether a token is configured.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

// ConsoleConfig configures the stdin/stdout host used for local testing.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// PCMOut receives the mixed output as raw s16le 48kHz stereo. Empty
	// discards audio.
	PCMOut string `yaml:"pcm_out" env:"PCM_OUT"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = FormatText
	}

	b := &cfg.Bot
	if b.CommandPrefix == "" {
		b.CommandPrefix = "!"
	}
	if b.PendingTimeout == 0 {
		b.PendingTimeout = 10 * time.Second
	}
	if b.PendingLimit == 0 {
		b.PendingLimit = 8
	}
	if b.MaxLoads == 0 {
		b.MaxLoads = 4
	}
	if b.OpenTimeout == 0 {
		b.OpenTimeout = 15 * time.Second
	}

	m := &cfg.Media
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	if m.BufferMS == 0 {
		m.BufferMS = 2000
	}
	if m.BreakerFailures == 0 {
		m.BreakerFailures = 5
	}
	if m.BreakerReset == 0 {
		m.BreakerReset = 30 * time.Second
	}

	if cfg.Discord.ReplyRate == 0 {
		cfg.Discord.ReplyRate = 2
	}
}
