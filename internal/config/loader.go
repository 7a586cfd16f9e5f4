package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv], for
// example AUDIOBOB_DISCORD_TOKEN or AUDIOBOB_BOT_ADMIN_GROUP.
const EnvPrefix = "AUDIOBOB_"

// Load reads the YAML file at path, applies defaults and the environment
// overlay, and validates the result. An empty path yields the defaults plus
// the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, Validate(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates. The
// environment is not consulted, which keeps tests hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg with AUDIOBOB_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	b := cfg.Bot
	if b.CommandPrefix == "" || strings.ContainsFunc(b.CommandPrefix, isSpace) {
		errs = append(errs, fmt.Errorf("bot.command_prefix %q must be non-empty and contain no whitespace", b.CommandPrefix))
	}
	if b.PendingTimeout < 0 {
		errs = append(errs, fmt.Errorf("bot.pending_timeout %s must not be negative", b.PendingTimeout))
	}
	if b.PendingLimit < 0 {
		errs = append(errs, fmt.Errorf("bot.pending_limit %d must not be negative", b.PendingLimit))
	}
	if b.MaxLoads < 0 {
		errs = append(errs, fmt.Errorf("bot.max_loads %d must not be negative", b.MaxLoads))
	}
	if b.OpenTimeout < 0 {
		errs = append(errs, fmt.Errorf("bot.open_timeout %s must not be negative", b.OpenTimeout))
	}
	if v := b.Volume(); math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		errs = append(errs, fmt.Errorf("bot.default_volume %v must be a finite number >= 0", v))
	}
	if b.AdminGroup == 0 {
		slog.Warn("bot.admin_group is 0; admin-only commands are open to everyone")
	}

	m := cfg.Media
	if m.BufferMS < 0 {
		errs = append(errs, fmt.Errorf("media.buffer_ms %d must not be negative", m.BufferMS))
	}
	if m.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("media.breaker_failures %d must not be negative", m.BreakerFailures))
	}
	if m.BreakerReset < 0 {
		errs = append(errs, fmt.Errorf("media.breaker_reset %s must not be negative", m.BreakerReset))
	}

	d := cfg.Discord
	for guild, channel := range d.VoiceChannels {
		if !isSnowflake(guild) {
			errs = append(errs, fmt.Errorf("discord.voice_channels: guild id %q is not a snowflake", guild))
		}
		if !isSnowflake(channel) {
			errs = append(errs, fmt.Errorf("discord.voice_channels[%s]: channel id %q is not a snowflake", guild, channel))
		}
	}
	for role := range d.RoleGroups {
		if !isSnowflake(role) {
			errs = append(errs, fmt.Errorf("discord.role_groups: role id %q is not a snowflake", role))
		}
	}
	if d.ReplyRate < 0 || math.IsNaN(d.ReplyRate) {
		errs = append(errs, fmt.Errorf("discord.reply_rate %v must not be negative", d.ReplyRate))
	}
	if !d.Enabled() && (len(d.VoiceChannels) > 0 || len(d.RoleGroups) > 0) {
		slog.Warn("discord settings present but discord.token is empty; the Discord host stays disabled")
	}

	if cfg.Console.PCMOut != "" && !cfg.Console.Enabled {
		slog.Warn("console.pcm_out is set but the console host is disabled")
	}
	if !d.Enabled() && !cfg.Console.Enabled {
		errs = append(errs, errors.New("no host configured: set discord.token or console.enabled"))
	}

	return errors.Join(errs...)
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

func isSnowflake(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
