package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/audiobob/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
bot:
  admin_group: 50
  command_prefix: "?"
  pending_timeout: 3s
  pending_limit: 2
  max_loads: 1
  open_timeout: 1m
  default_volume: 0
media:
  ffmpeg_path: /usr/bin/ffmpeg
  buffer_ms: 500
  breaker_failures: 3
  breaker_reset: 10s
discord:
  token: abc
  voice_channels:
    "111": "222"
  role_groups:
    "333": 50
    "444": 10
  reply_rate: 5
console:
  enabled: true
  pcm_out: /tmp/out.pcm
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.FormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	b := cfg.Bot
	if b.AdminGroup != 50 || b.CommandPrefix != "?" || b.PendingTimeout != 3*time.Second ||
		b.PendingLimit != 2 || b.MaxLoads != 1 || b.OpenTimeout != time.Minute {
		t.Errorf("bot = %+v", b)
	}
	if b.Volume() != 0 {
		t.Errorf("explicit default_volume 0 must be kept, got %v", b.Volume())
	}
	if cfg.Media.Buffer() != 500*time.Millisecond || cfg.Media.BreakerFailures != 3 {
		t.Errorf("media = %+v", cfg.Media)
	}
	if cfg.Discord.RoleGroups["333"] != 50 || cfg.Discord.VoiceChannels["111"] != "222" || cfg.Discord.ReplyRate != 5 {
		t.Errorf("discord = %+v", cfg.Discord)
	}
	if !cfg.Console.Enabled || cfg.Console.PCMOut != "/tmp/out.pcm" {
		t.Errorf("console = %+v", cfg.Console)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("console:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.FormatText {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	b := cfg.Bot
	if b.CommandPrefix != "!" || b.PendingTimeout != 10*time.Second || b.PendingLimit != 8 ||
		b.MaxLoads != 4 || b.OpenTimeout != 15*time.Second || b.Volume() != 1 {
		t.Errorf("bot defaults = %+v", b)
	}
	m := cfg.Media
	if m.FFmpegPath != "ffmpeg" || m.BufferMS != 2000 || m.BreakerFailures != 5 || m.BreakerReset != 30*time.Second {
		t.Errorf("media defaults = %+v", m)
	}
	if cfg.Discord.ReplyRate != 2 || cfg.Discord.Enabled() {
		t.Errorf("discord defaults = %+v", cfg.Discord)
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{"unknown field", "console:\n  enabled: true\n  colour: red\n", []string{"colour"}},
		{"bad log level", "server:\n  log_level: loud\nconsole:\n  enabled: true\n", []string{"server.log_level"}},
		{"bad log format", "server:\n  log_format: xml\nconsole:\n  enabled: true\n", []string{"server.log_format"}},
		{"prefix with space", "bot:\n  command_prefix: \"! \"\nconsole:\n  enabled: true\n", []string{"bot.command_prefix"}},
		{"negative volume", "bot:\n  default_volume: -1\nconsole:\n  enabled: true\n", []string{"bot.default_volume"}},
		{"negative timeout", "bot:\n  pending_timeout: -1s\nconsole:\n  enabled: true\n", []string{"bot.pending_timeout"}},
		{"no host", "server:\n  log_level: info\n", []string{"no host configured"}},
		{
			"snowflakes",
			"discord:\n  token: x\n  voice_channels:\n    guild: \"1\"\n  role_groups:\n    admin: 5\n",
			[]string{"guild id \"guild\"", "role id \"admin\""},
		},
		{
			"several problems",
			"server:\n  log_level: loud\nbot:\n  max_loads: -1\nmedia:\n  buffer_ms: -5\n",
			[]string{"server.log_level", "bot.max_loads", "media.buffer_ms", "no host configured"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q should mention %q", err, w)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audiobob.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.AdminGroup != 50 {
		t.Errorf("admin_group = %d", cfg.Bot.AdminGroup)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

// Environment tests cannot run in parallel.

func TestLoad_EnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiobob.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUDIOBOB_DISCORD_TOKEN", "from-env")
	t.Setenv("AUDIOBOB_BOT_ADMIN_GROUP", "75")
	t.Setenv("AUDIOBOB_BOT_PENDING_TIMEOUT", "45s")
	t.Setenv("AUDIOBOB_DISCORD_ROLE_GROUPS", "999:80")
	t.Setenv("AUDIOBOB_SERVER_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "from-env" || cfg.Bot.AdminGroup != 75 || cfg.Bot.PendingTimeout != 45*time.Second {
		t.Errorf("env not applied: %+v %+v", cfg.Discord, cfg.Bot)
	}
	if cfg.Discord.RoleGroups["999"] != 80 || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("env not applied: %+v %+v", cfg.Discord.RoleGroups, cfg.Server)
	}
	// Unset variables leave file values alone.
	if cfg.Media.FFmpegPath != "/usr/bin/ffmpeg" || cfg.Bot.CommandPrefix != "?" {
		t.Errorf("file values lost: %+v", cfg)
	}
}

func TestLoad_EmptyPathUsesEnv(t *testing.T) {
	t.Setenv("AUDIOBOB_CONSOLE_ENABLED", "true")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Console.Enabled || cfg.Bot.CommandPrefix != "!" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("AUDIOBOB_BOT_PENDING_LIMIT", "many")
	if _, err := config.Load(""); err == nil {
		t.Error("unparsable env value should fail")
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()

	if config.LogDebug.Slog().String() != "DEBUG" || config.LogLevel("").Slog().String() != "INFO" {
		t.Error("unexpected slog mapping")
	}
}
