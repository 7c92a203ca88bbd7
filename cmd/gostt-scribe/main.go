package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-scribe/internal/audio"
	"github.com/chaz8081/gostt-scribe/internal/config"
	"github.com/chaz8081/gostt-scribe/internal/controller"
	"github.com/chaz8081/gostt-scribe/internal/display"
	"github.com/chaz8081/gostt-scribe/internal/hotkey"
	"github.com/chaz8081/gostt-scribe/internal/inject"
	"github.com/chaz8081/gostt-scribe/internal/transcribe"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-scribe/config.yaml)")
	envPath := flag.String("env", ".env", "env file to load before reading "+config.APIKeyEnv)
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	ctx := context.Background()

	transcriber, err := transcribe.NewGeminiTranscriber(ctx, transcribe.GeminiConfig{
		APIKey: config.APIKey(),
		Model:  cfg.Model,
	})
	if err != nil {
		log.Fatalf("Failed to initialize transcription client: %v\n\nSet %s in the environment or in %s.", err, config.APIKeyEnv, *envPath)
	}
	log.Printf("Transcription client ready (model: %s)", transcriber.Model())

	source, err := audio.NewMalgoSource(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		log.Fatalf("Failed to initialize audio capture: %v", err)
	}
	log.Println("Audio capture ready")

	injector, err := inject.NewInjector(cfg.Inject.Method)
	if err != nil {
		source.Close()
		log.Fatalf("Failed to initialize text injector: %v", err)
	}

	ctrl := controller.New(source, transcriber)
	ctrl.Subscribe(display.NewRenderer(os.Stdout).Render)
	if injector.Enabled() {
		ctrl.Subscribe(injectTranscripts(injector))
		log.Printf("Text injector ready (method: %s)", cfg.Inject.Method)
	}

	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go listener.Start()

	log.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to record. Ctrl+C to quit.")

	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				log.Println("Hotkey listener stopped")
				shutdown(ctrl, source)
				return
			}
			hotkey.Dispatch(ctx, ev, listener.Mode(), ctrl.State().Recording, ctrl)

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			shutdown(ctrl, source)
			log.Println("Goodbye!")
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

// shutdownGrace bounds how long shutdown waits for a pending transcription.
const shutdownGrace = 5 * time.Second

// shutdown releases the microphone and gives a pending transcription a
// short grace period. Requests have no timeout, so the wait is bounded here.
func shutdown(ctrl *controller.Controller, source *audio.MalgoSource) {
	if err := ctrl.Close(); err != nil {
		slog.Warn("closing controller", "error", err)
	}
	if err := source.Close(); err != nil {
		slog.Warn("closing audio capture", "error", err)
	}

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("Transcription still pending after %s, exiting anyway", shutdownGrace)
	}
}

// injectTranscripts returns an observer that delivers each new transcript
// to the focused application.
func injectTranscripts(injector *inject.Injector) func(controller.State) {
	var last *string
	return func(s controller.State) {
		if s.Transcript == nil || s.Transcript == last {
			return
		}
		last = s.Transcript
		text := *s.Transcript
		go func() {
			if err := injector.Inject(text); err != nil {
				slog.Error("text injection failed", "error", err)
			}
		}()
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== gostt-scribe ===")
	fmt.Printf("  Model:   %s\n", cfg.Model)
	fmt.Printf("  Hotkey:  %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Audio:   %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Inject:  %s\n", cfg.Inject.Method)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
