package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/discord-voice-lab/jukebox/internal/config"
	"github.com/discord-voice-lab/jukebox/internal/discord"
	"github.com/discord-voice-lab/jukebox/internal/favorites"
	"github.com/discord-voice-lab/jukebox/internal/gate"
	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/mcp"
	"github.com/discord-voice-lab/jukebox/internal/media"
	"github.com/discord-voice-lab/jukebox/internal/metrics"
	"github.com/discord-voice-lab/jukebox/internal/session"
	"github.com/discord-voice-lab/jukebox/internal/stt"
)

var version = "dev"

const (
	shutdownTimeout      = 10 * time.Second
	archiveCleanInterval = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", os.Getenv("JUKEBOX_CONFIG"), "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init()
		logging.FatalExitf("config load failed", "path", *configPath, "err", err)
	}
	logging.InitLevel(cfg.Logging.Level)
	defer func() { _ = logging.Sync() }()

	if err := run(cfg); err != nil {
		logging.Errorw("bot exited with error", "err", err)
		_ = logging.Sync()
		os.Exit(1)
	}
	logging.Infow("shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	whisper, err := stt.NewWhisperClient(stt.Config{
		URL:       cfg.Transcription.URL,
		AuthToken: cfg.Transcription.Token,
		Language:  cfg.Transcription.Language,
		BeamSize:  cfg.Transcription.BeamSize,
		Translate: cfg.Transcription.Translate,
		Timeout:   cfg.Transcription.Timeout(),
	}, nil)
	if err != nil {
		return fmt.Errorf("transcription client: %w", err)
	}
	transcriber := gate.New(whisper, cfg.Transcription.GateInterval(), m)
	mediaClient := media.NewClient(cfg.Media.URL, cfg.Media.APIKey)

	store, closeStore, err := openFavorites(cfg.Favorites)
	if err != nil {
		return fmt.Errorf("favorites store: %w", err)
	}
	book := favorites.NewBook(store)
	if err := book.Load(ctx); err != nil {
		_ = closeStore()
		return fmt.Errorf("load favorites: %w", err)
	}
	go book.Run(ctx, cfg.Favorites.SaveInterval())

	segCfg, err := segmenterConfig(cfg.Audio)
	if err != nil {
		_ = closeStore()
		return err
	}
	if segCfg.Archive != nil {
		logging.Infow("archiving utterances", "dir", segCfg.Archive.Dir)
		go segCfg.Archive.Run(ctx, archiveCleanInterval)
	}

	norm, err := buildNormalizer(cfg.Commands, cfg.Discord.Prefix)
	if err != nil {
		_ = closeStore()
		return err
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		_ = closeStore()
		return fmt.Errorf("discordgo.New: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	logging.Infow("using gateway intents", "intents", dg.Identify.Intents)

	names := discord.NewNames(dg)
	transport := discord.NewTransport(dg, cfg.Audio.SilenceTimeout(), names)
	reg := session.NewRegistry(context.Background(), session.Deps{
		Transport:      transport,
		Transcriber:    transcriber,
		Resolver:       mediaClient,
		Streamer:       mediaClient,
		Replier:        discord.NewReplier(dg),
		Segmenter:      segCfg,
		JoinClip:       cfg.Commands.JoinClip,
		JoinClipVolume: cfg.Commands.JoinClipVolume,
		Observer:       m,
		VoiceObserver:  m,
	})
	disp := session.NewDispatcher(reg, norm, book, session.DispatcherConfig{
		MessageLimit:     cfg.Discord.MessageLimit,
		WakePhrase:       firstOrEmpty(cfg.Commands.WakePhrases),
		EchoUnrecognized: cfg.Commands.EchoUnrecognized,
	})

	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logging.Infow("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	dg.AddHandler(discord.OnMessageCreate(disp))
	dg.AddHandler(transport.HandleVoiceStateUpdate)
	dg.AddHandler(newEventLogger(cfg.Logging).handle)

	logging.Infow("opening discord session")
	if err := dg.Open(); err != nil {
		_ = closeStore()
		return fmt.Errorf("discord session open: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", healthHandler(reg))
	mux.Handle("/mcp/ws", mcp.NewServer(mcp.NewBackend(disp, reg), version))
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logging.Infow("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorw("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Infow("shutdown signal received, closing resources")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- errors.Join(
			reg.CloseAll(),
			book.Flush(shutdownCtx),
			dg.Close(),
			closeStore(),
			srv.Shutdown(shutdownCtx),
		)
	}()
	select {
	case err := <-done:
		return err
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown did not finish within %s", shutdownTimeout)
	}
}

func healthHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"sessions": len(reg.List()),
		})
	}
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
