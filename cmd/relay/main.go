package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nguyentantai21042004/voicebrief/internal/admission"
	"github.com/nguyentantai21042004/voicebrief/internal/config"
	"github.com/nguyentantai21042004/voicebrief/internal/logger"
	"github.com/nguyentantai21042004/voicebrief/internal/optout"
	"github.com/nguyentantai21042004/voicebrief/internal/processor"
	"github.com/nguyentantai21042004/voicebrief/internal/server"
	"github.com/nguyentantai21042004/voicebrief/internal/summarizer"
	"github.com/nguyentantai21042004/voicebrief/internal/transcoder"
	"github.com/nguyentantai21042004/voicebrief/internal/usage"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
	"github.com/nguyentantai21042004/voicebrief/pkg/executor"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level)
	log.Info(ctx, "========================================")
	log.Info(ctx, "Voice Note Summarization Relay")
	log.Info(ctx, "========================================")
	log.Info(ctx, "Rate limit window: %v", cfg.Window())
	log.Info(ctx, "Max concurrent pipelines: %d", cfg.Limits.MaxConcurrent)

	// Missing secrets are warnings, not fatal: the verification and
	// health endpoints must stay reachable either way
	for _, missing := range cfg.MissingSecrets() {
		log.Warn(ctx, "Missing required secret: %s", missing)
	}

	if err := ensureDirectories(cfg); err != nil {
		log.Error(ctx, "Failed to create directories: %v", err)
		os.Exit(1)
	}

	// Shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	exec := executor.New()
	registry := optout.New(cfg.Paths.OptOutFile, log.WithPrefix("optout"))
	controller := admission.New(cfg.Window(), log.WithPrefix("admission"))
	controller.StartJanitor(ctx)
	recorder := usage.New(cfg.Paths.UsageLog, log.WithPrefix("usage"))
	gateway := whatsapp.New(cfg.WhatsApp.APIBase, cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID, log.WithPrefix("whatsapp"))
	coder := transcoder.New(cfg.FFmpeg.Binary, cfg.FFmpeg.AudioBitrate, exec, log.WithPrefix("transcoder"))
	summ := summarizer.New(cfg.Gemini.APIKeys, cfg.Gemini.Model, log.WithPrefix("summarizer"))

	proc := processor.New(processor.Options{
		Gateway:        gateway,
		Registry:       registry,
		Admission:      controller,
		Usage:          recorder,
		Transcoder:     coder,
		Summarizer:     summ,
		Logger:         log.WithPrefix("processor"),
		TempRoot:       cfg.Paths.Temp,
		ProcessTimeout: cfg.ProcessTimeout(),
		MaxConcurrent:  cfg.Limits.MaxConcurrent,
	})

	// Reload the opt-out file when an operator edits it
	go func() {
		if err := registry.Watch(ctx); err != nil && err != context.Canceled {
			log.Error(ctx, "Opt-out watcher stopped: %v", err)
		}
	}()

	srv := server.New(ctx, cfg.Webhook.VerifyToken, proc, log.WithPrefix("server"))

	log.Info(ctx, "Relay is ready on port %d", cfg.Server.Port)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		log.Error(ctx, "Server error: %v", err)
		os.Exit(1)
	}

	// Let in-flight pipelines finish before exit
	log.Info(ctx, "Shutting down, draining in-flight messages...")
	proc.Wait()
	log.Info(ctx, "Relay stopped")
}

// ensureDirectories creates required directories if they don't exist
func ensureDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.Paths.Data,
		cfg.Paths.Temp,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
