// Command audiobob runs the voice-chat audio bot on the configured hosts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/config"
	"github.com/MrWong99/audiobob/internal/health"
	"github.com/MrWong99/audiobob/internal/host/console"
	"github.com/MrWong99/audiobob/internal/host/discord"
	"github.com/MrWong99/audiobob/internal/httpapi"
	"github.com/MrWong99/audiobob/internal/media"
	"github.com/MrWong99/audiobob/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const sweepInterval = time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: defaults and environment only)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "audiobob: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiobob: %v\n", err)
		return 1
	}
	if !cfg.Discord.Enabled() && !cfg.Console.Enabled {
		fmt.Fprintln(os.Stderr, "audiobob: no host enabled; set discord.token or console.enabled")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	logger := newLogger(os.Stderr, level, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("audiobob starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"discord", cfg.Discord.Enabled(),
		"console", cfg.Console.Enabled,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Media ─────────────────────────────────────────────────────────────────
	ffmpeg := &media.FFmpeg{Path: cfg.Media.FFmpegPath, Buffer: cfg.Media.Buffer()}
	if err := ffmpeg.Available(); err != nil {
		slog.Warn("ffmpeg not found, only tone and websocket sources will play", "path", cfg.Media.FFmpegPath, "err", err)
	}
	guard := media.NewGuard(ffmpeg, media.GuardConfig{
		Name:         "ffmpeg",
		MaxFailures:  cfg.Media.BreakerFailures,
		ResetTimeout: cfg.Media.BreakerReset,
	})
	opener := media.NewMux(guard)
	opener.Handle("tone", media.ToneOpener{})
	ws := &media.WebSocket{Buffer: cfg.Media.Buffer()}
	opener.Handle("ws", ws)
	opener.Handle("wss", ws)

	botCfg := bot.Config{
		AdminGroup:     cfg.Bot.AdminGroup,
		PendingTimeout: cfg.Bot.PendingTimeout,
		PendingLimit:   cfg.Bot.PendingLimit,
		MaxLoads:       cfg.Bot.MaxLoads,
		OpenTimeout:    cfg.Bot.OpenTimeout,
	}
	newBot := func(name string, host bot.Host) *bot.Bot {
		return bot.New(host, opener, botCfg,
			bot.WithLogger(logger.With("host", name)),
			bot.WithMetrics(metrics),
			bot.WithShutdown(cancel),
			bot.WithVolume(cfg.Bot.Volume()),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	bots := make(map[string]*bot.Bot)
	inspectors := make(map[string]httpapi.Inspector)

	// ── Discord host (optional) ───────────────────────────────────────────────
	var discordHost *discord.Host
	if cfg.Discord.Enabled() {
		s, err := discord.Dial(cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to create Discord session", "err", err)
			return 1
		}
		discordHost = discord.New(s, s.State, discordConfig(cfg), discord.WithLogger(logger.With("host", "discord")))
		b := newBot("discord", discordHost)
		discordHost.Attach(b)
		bots["discord"], inspectors["discord"] = b, b
		g.Go(func() error { return discordHost.Run(gctx, s) })
	}

	// ── Console host (optional) ───────────────────────────────────────────────
	if cfg.Console.Enabled {
		var pcm io.Writer
		if cfg.Console.PCMOut != "" {
			f, err := os.Create(cfg.Console.PCMOut)
			if err != nil {
				slog.Error("failed to open pcm output", "path", cfg.Console.PCMOut, "err", err)
				return 1
			}
			defer f.Close()
			pcm = f
		}
		consoleHost := console.New(os.Stdin, os.Stdout, console.Config{
			Group:  cfg.Bot.AdminGroup,
			Prefix: cfg.Bot.CommandPrefix,
			PCM:    pcm,
		}, console.WithLogger(logger.With("host", "console")))
		b := newBot("console", consoleHost)
		consoleHost.Attach(b)
		bots["console"], inspectors["console"] = b, b
		g.Go(func() error {
			err := consoleHost.Run(gctx)
			if discordHost == nil {
				// Input ended and nothing else is serving.
				cancel()
			}
			return err
		})
	}

	// ── Admin HTTP server (optional) ──────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		checks := []health.Checker{
			health.FFmpegCheck(ffmpeg),
			health.BreakerCheck("ffmpeg", guard.State),
			health.ConnectionsCheck(1, func() int {
				n := 0
				for _, b := range bots {
					n += b.Connections()
				}
				return n
			}),
		}
		api := httpapi.New(health.New(checks...), inspectors, httpapi.WithMetrics(metrics))
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	// ── Background work ───────────────────────────────────────────────────────
	g.Go(func() error {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				for _, b := range bots {
					b.Sweep(gctx)
				}
			}
		}
	})

	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(level, discordHost, old, new)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	slog.Info("audiobob ready, press Ctrl+C to shut down")

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	for name, b := range bots {
		b.Close()
		slog.Debug("bot closed", "host", name)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process logger. level may be changed later to apply a
// reloaded log level.
func newLogger(w io.Writer, level *slog.LevelVar, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func discordConfig(cfg *config.Config) discord.Config {
	return discord.Config{
		Prefix:        cfg.Bot.CommandPrefix,
		VoiceChannels: cfg.Discord.VoiceChannels,
		RoleGroups:    cfg.Discord.RoleGroups,
		ReplyRate:     cfg.Discord.ReplyRate,
	}
}

// applyReload applies the settings that can change without a restart.
func applyReload(level *slog.LevelVar, dh *discord.Host, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if dh != nil && (d.RoleGroupsChanged || d.ReplyRateChanged || len(d.GuildsAdded) > 0 || len(d.GuildsRemoved) > 0) {
		dh.Reconfigure(discordConfig(new))
	}
}
