package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	analysisimpl "github.com/foxseedlab/mimamorin/external/analysis"
	audioimpl "github.com/foxseedlab/mimamorin/external/audio"
	configloader "github.com/foxseedlab/mimamorin/external/config"
	repositoryimpl "github.com/foxseedlab/mimamorin/external/repository"
	transcriberimpl "github.com/foxseedlab/mimamorin/external/transcriber"
	webhookimpl "github.com/foxseedlab/mimamorin/external/webhook"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/foxseedlab/mimamorin/internal/repository"
	"github.com/foxseedlab/mimamorin/internal/session"
	"github.com/samber/do/v2"
)

const sessionStartTimeout = 30 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "audio_source", cfg.AudioSource)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	runSession(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	analysisimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runSession(injector do.Injector) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to resolve repository", "error", err)
		os.Exit(1)
	}
	engine, err := do.Invoke[*session.Engine](injector)
	if err != nil {
		slog.Error("failed to resolve session engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionStartTimeout)
	closed, err := repo.CloseOrphanSessions(ctx, time.Now())
	if err != nil {
		slog.Error("failed to close orphan sessions", "error", err)
	} else if closed > 0 {
		slog.Warn("closed orphan sessions from a previous run", "count", closed)
	}

	slog.Info("startup: starting monitoring session")
	if err := engine.Start(ctx); err != nil {
		cancel()
		slog.Error("session start failed", "error", err)
		os.Exit(1)
	}
	cancel()

	go commandLoop(engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-sigCh:
			slog.Info("shutting down")
			if err := engine.Stop("interrupted"); err != nil {
				slog.Debug("stop on shutdown skipped", "error", err)
			}
			break loop
		case <-ticker.C:
			if engine.State() == session.StateStopped {
				break loop
			}
		}
	}

	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()
	record, err := repo.GetSession(recordCtx, engine.SessionID())
	if err != nil {
		slog.Error("failed to load final session record", "error", err)
		return
	}
	if record != nil {
		slog.Info("final session record",
			"session_id", record.ID,
			"status", record.Status,
			"stop_reason", record.StopReason,
			"duration_seconds", record.DurationSeconds,
			"alert_count", record.AlertCount)
	}
}

// commandLoop reads interactive session commands from stdin.
func commandLoop(engine *session.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(strings.ToLower(scanner.Text()))
		var err error
		switch cmd {
		case "":
			continue
		case "pause":
			err = engine.Pause()
		case "resume":
			err = engine.Resume()
		case "analyze":
			err = engine.TriggerAnalysis()
		case "stop":
			err = engine.Stop("operator request")
		case "status":
			pathway := engine.Aggregate().Pathway()
			slog.Info("session status",
				"state", engine.State(),
				"session_id", engine.SessionID(),
				"transcript_entries", len(engine.Transcript()),
				"alerts", len(engine.Alerts()),
				"speaking", engine.Speaking(),
				"approach_effectiveness", pathway.Effectiveness,
				"change_urgency", pathway.ChangeUrgency,
				"citations", len(engine.Aggregate().Citations()))
		default:
			slog.Warn("unknown command", "command", cmd)
		}
		if err != nil {
			slog.Error("command failed", "command", cmd, "error", err)
		}
	}
}
