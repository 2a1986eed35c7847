package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earshot/internal/asr"
	"github.com/earshot/internal/audio"
	"github.com/earshot/internal/config"
	"github.com/earshot/internal/detect"
	"github.com/earshot/internal/llm"
	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/mcpctl"
	"github.com/earshot/internal/monitor"
	"github.com/earshot/internal/sink"
	"github.com/earshot/internal/web"
)

func main() {
	cfgPath := flag.String("config", "earshot.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	sugar := logging.Init(cfg.Log.Level)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		sugar.Fatalf("earshot: %v", err)
	}
}

func run(cfg *config.Config) error {
	mode, err := monitor.ParseMode(cfg.Detect.Mode)
	if err != nil {
		return err
	}

	var client *llm.Client
	if cfg.LLM.BaseURL != "" {
		client = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	}

	opts := monitor.Options{
		Mode:       mode,
		Keywords:   cfg.Detect.Keywords,
		Cooldown:   time.Duration(cfg.Detect.CooldownSec) * time.Second,
		BufferMax:  cfg.Detect.BufferMax,
		BufferTail: cfg.Detect.BufferTail,
	}

	if mode != monitor.ModeAudioDirect {
		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		opts.Engine = engine
	}
	if mode == monitor.ModeSemantic || mode == monitor.ModeDual {
		cache := detect.NewEmbeddingCache(client, cfg.LLM.EmbedModel,
			cfg.Detect.EmbedBatchSize, cfg.Detect.EmbedConcurrency, cfg.Detect.PhraseCacheSize)
		opts.Cache = cache
		opts.Semantic = detect.NewSemanticMatcher(cache, cfg.Detect.Threshold)
	}
	if mode == monitor.ModeDeepIntent || mode == monitor.ModeDual {
		opts.Intent = detect.NewIntentClassifier(client, cfg.LLM.ChatModel,
			cfg.Detect.Keywords, time.Duration(cfg.Detect.IntentIntervalSec)*time.Second)
	}
	if mode == monitor.ModeAudioDirect {
		opts.Audio = detect.NewAudioClassifier(client, cfg.LLM.AudioModel,
			cfg.Detect.Keywords, cfg.Audio.SampleRate, cfg.Audio.Channels,
			time.Duration(cfg.Detect.AudioWindowSec)*time.Second)
	}

	if cfg.Detect.CodesFile != "off" {
		opts.Codes = detect.NewCodeRecorder(cfg.Detect.CodesFile)
	}

	hub := web.NewHub()
	opts.Events = hub

	sinks, closers, err := buildSinks(cfg, hub)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	opts.Sinks = sinks

	pipe := monitor.New(opts)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = pipe.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}

	ingress := audio.NewIngress(cfg.Audio.Codec, cfg.Audio.SampleRate, cfg.Audio.Channels, pipe.FeedAudio)
	mux := http.NewServeMux()
	mux.Handle("/audio", ingress.Handler())
	mux.Handle("/mcp", mcpctl.NewServer(pipe).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	ingressSrv := &http.Server{Addr: cfg.Audio.ListenAddr, Handler: mux}

	panel := web.NewServer(cfg.Web.ListenAddr, pipe, hub)

	errCh := make(chan error, 2)
	go func() {
		logging.Infow("ingress listening", "addr", cfg.Audio.ListenAddr, "codec", cfg.Audio.Codec)
		if err := ingressSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ingress: %w", err)
		}
	}()
	go func() {
		if err := panel.Start(); err != nil {
			errCh <- fmt.Errorf("panel: %w", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logging.Infow("shutting down", "signal", s.String())
	case err := <-errCh:
		logging.Errorw("server failed, shutting down", "error", err)
	}

	// Stop feeding before tearing the pipeline down.
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	ingressSrv.Shutdown(shCtx)
	pipe.Stop()
	panel.Shutdown(shCtx)
	return nil
}

func buildEngine(cfg *config.Config) (asr.Engine, error) {
	switch cfg.ASR.Engine {
	case "stream":
		return asr.NewStreamEngine(asr.StreamOptions{
			URL:          cfg.ASR.URL,
			QueueSize:    cfg.ASR.QueueSize,
			MaxReconnect: cfg.ASR.MaxReconnect,
			Backoff:      time.Duration(cfg.ASR.ReconnectBackoffMs) * time.Millisecond,
		}), nil
	case "block":
		return asr.NewBlockEngine(asr.BlockOptions{
			URL:        cfg.ASR.URL,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			ChunkMs:    cfg.ASR.ChunkMs,
			Timeout:    time.Duration(cfg.ASR.RequestTimeoutMs) * time.Millisecond,
		}), nil
	default:
		return nil, fmt.Errorf("unknown asr engine %q", cfg.ASR.Engine)
	}
}

func buildSinks(cfg *config.Config, hub *web.Hub) ([]sink.Sink, []func() error, error) {
	sinks := []sink.Sink{sink.LogSink{}, sink.WebSink{Hub: hub}}
	var closers []func() error

	if cfg.Alerts.SoundCommand != "" && cfg.Alerts.SoundFile != "" {
		sinks = append(sinks, sink.SoundSink{Command: cfg.Alerts.SoundCommand, File: cfg.Alerts.SoundFile})
	}
	if cfg.Alerts.Discord.Token != "" && cfg.Alerts.Discord.ChannelID != "" {
		ds, err := sink.NewDiscordSink(cfg.Alerts.Discord.Token, cfg.Alerts.Discord.ChannelID)
		if err != nil {
			return nil, nil, fmt.Errorf("discord sink: %w", err)
		}
		sinks = append(sinks, ds)
		closers = append(closers, ds.Close)
	}
	return sinks, closers, nil
}
