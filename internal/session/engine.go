package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/mimamorin/internal/alerts"
	"github.com/foxseedlab/mimamorin/internal/analysis"
	"github.com/foxseedlab/mimamorin/internal/audio"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/foxseedlab/mimamorin/internal/repository"
	"github.com/foxseedlab/mimamorin/internal/transcriber"
	"github.com/foxseedlab/mimamorin/internal/transcript"
	"github.com/foxseedlab/mimamorin/internal/webhook"
)

type EngineState string

const (
	StateIdle       EngineState = "idle"
	StateConnecting EngineState = "connecting"
	StateStreaming  EngineState = "streaming"
	StatePaused     EngineState = "paused"
	StateStopped    EngineState = "stopped"
)

// Engine drives one monitoring session end to end: it feeds audio frames to
// the transcription channel, assembles the transcript, schedules analysis
// passes on word-count growth, deduplicates the resulting alerts and
// aggregates session metrics. Pausing tears the transcription channel down
// completely; resuming performs a fresh handshake, so at most one live
// channel exists per session at any time.
type Engine struct {
	cfg       *config.Config
	streamer  transcriber.Streamer
	analyzer  analysis.Analyzer
	webhook   webhook.Sender
	repo      repository.Repository
	newSource audio.SourceFactory

	mu          sync.Mutex
	state       EngineState
	generation  int
	conn        transcriber.StreamConn
	source      audio.Source
	feedCancel  context.CancelFunc
	stopTimer   *time.Timer
	repoSession *repository.Session
	log         transcript.Log
	scheduler   *analysis.Scheduler
	history     *alerts.History
	aggregate   *State
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	speaking    bool
}

func NewEngine(cfg *config.Config, streamer transcriber.Streamer, analyzer analysis.Analyzer, wh webhook.Sender, repo repository.Repository, newSource audio.SourceFactory) *Engine {
	return &Engine{
		cfg:       cfg,
		streamer:  streamer,
		analyzer:  analyzer,
		webhook:   wh,
		repo:      repo,
		newSource: newSource,
		state:     StateIdle,
		scheduler: analysis.NewScheduler(cfg.AnalysisWordThreshold, time.Duration(cfg.AnalysisWindowMin)*time.Minute),
		history:   alerts.NewHistory(time.Duration(cfg.AlertRetentionMin) * time.Minute),
		aggregate: NewState(cfg.CurrentApproach),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", state)
	}
	e.state = StateConnecting
	e.mu.Unlock()

	src, err := e.newSource(audio.SourceKind(e.cfg.AudioSource), e.cfg.AudioFilePath)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("create audio source: %w", err)
	}

	startedAt := time.Now()
	created, err := e.repo.CreateSession(ctx, repository.CreateSessionInput{
		SourceKind:     e.cfg.AudioSource,
		SessionType:    e.cfg.SessionType,
		PrimaryConcern: e.cfg.PrimaryConcern,
		StartedAt:      startedAt,
	})
	if err != nil {
		_ = src.Close()
		e.setState(StateIdle)
		return fmt.Errorf("create session record: %w", err)
	}
	slog.Info("session created", "session_id", created.ID, "source", e.cfg.AudioSource)

	conn, gen, err := e.openStream(ctx, src, created.ID)
	if err != nil {
		_ = src.Close()
		e.setState(StateIdle)
		return fmt.Errorf("open transcription channel: %w", err)
	}

	if err := src.Start(ctx); err != nil {
		_ = conn.Close()
		_ = src.Close()
		e.setState(StateIdle)
		return fmt.Errorf("start audio source: %w", err)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.source = src
	e.conn = conn
	e.repoSession = created
	e.startedAt = startedAt
	e.pausedTotal = 0
	e.feedCancel = cancel
	e.state = StateStreaming
	e.stopTimer = time.AfterFunc(time.Duration(e.cfg.MaxSessionDurationMin)*time.Minute, func() {
		if err := e.Stop("max session duration reached"); err != nil {
			slog.Debug("max duration stop skipped", "error", err)
		}
	})
	e.mu.Unlock()

	go e.feedLoop(feedCtx, gen)
	slog.Info("session streaming", "session_id", created.ID)
	return nil
}

// openStream performs the handshake for a fresh transcription channel and
// waits out the settle delay before any audio is fed to it.
func (e *Engine) openStream(ctx context.Context, src audio.Source, sessionID string) (transcriber.StreamConn, int, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	format := src.Format()
	init := transcriber.InitMessage{
		SessionID: sessionID,
		Config: transcriber.InitConfig{
			SampleRate: format.SampleRate,
			Encoding:   format.Encoding,
		},
	}
	if e.cfg.ServiceAuthToken != "" {
		token := e.cfg.ServiceAuthToken
		init.AuthToken = &token
	}

	conn, err := e.streamer.OpenStream(ctx, init, &streamReceiver{engine: e, generation: gen})
	if err != nil {
		return nil, 0, err
	}
	if e.cfg.StreamSettleDelayMS > 0 {
		time.Sleep(time.Duration(e.cfg.StreamSettleDelayMS) * time.Millisecond)
	}
	return conn, gen, nil
}

func (e *Engine) feedLoop(ctx context.Context, gen int) {
	ticker := time.NewTicker(time.Duration(e.cfg.FrameIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.feedTick(gen) {
				return
			}
		}
	}
}

// feedTick forwards available frames for one interval. It reports false when
// the loop should end.
func (e *Engine) feedTick(gen int) bool {
	for {
		e.mu.Lock()
		src, conn := e.source, e.conn
		live := e.state == StateStreaming && e.generation == gen
		e.mu.Unlock()
		if !live || src == nil || conn == nil {
			return false
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			go func() {
				if err := e.Stop("audio source exhausted"); err != nil {
					slog.Debug("auto stop skipped", "error", err)
				}
			}()
			return false
		}
		if err != nil {
			slog.Warn("failed to read audio frame", "error", err)
			return true
		}
		if frame == nil {
			return true
		}
		if err := conn.SendFrame(frame); err != nil {
			slog.Error("failed to send audio frame", "error", err)
			return true
		}
		// A file source frame already spans a full interval; microphone
		// sources queue shorter packets, so keep draining them.
		if src.Kind() == audio.SourceFile {
			return true
		}
	}
}

// Pause tears the transcription channel down and halts the audio source. The
// transcript, alert history and aggregated state all survive the pause.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != StateStreaming {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot pause session from state %q", state)
	}
	e.state = StatePaused
	e.pausedAt = time.Now()
	e.generation++
	cancel := e.feedCancel
	e.feedCancel = nil
	conn := e.conn
	e.conn = nil
	src := e.source
	sessionID := e.sessionIDLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		_ = src.Pause()
	}
	if conn != nil {
		_ = conn.SendStop()
		_ = conn.Close()
	}
	slog.Info("session paused", "session_id", sessionID)
	return nil
}

// Resume opens a fresh transcription channel and continues the audio source
// from where it was paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot resume session from state %q", state)
	}
	src := e.source
	sessionID := e.sessionIDLocked()
	e.pausedTotal += time.Since(e.pausedAt)
	e.mu.Unlock()

	conn, gen, err := e.openStream(context.Background(), src, sessionID)
	if err != nil {
		return fmt.Errorf("reopen transcription channel: %w", err)
	}
	if err := src.Resume(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("resume audio source: %w", err)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.conn = conn
	e.feedCancel = cancel
	e.state = StateStreaming
	e.mu.Unlock()

	go e.feedLoop(feedCtx, gen)
	slog.Info("session resumed", "session_id", sessionID)
	return nil
}

// Stop ends the session. The stop marker is sent first and the channel is
// held open through a short grace period so trailing finalized transcripts
// can still land, then the session is finalized.
func (e *Engine) Stop(reason string) error {
	e.mu.Lock()
	if e.state != StateStreaming && e.state != StatePaused {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot stop session from state %q", state)
	}
	if e.state == StatePaused {
		// Close out the in-progress pause interval so it is not counted
		// as active session time.
		e.pausedTotal += time.Since(e.pausedAt)
	}
	e.state = StateStopped
	cancel := e.feedCancel
	e.feedCancel = nil
	conn := e.conn
	e.conn = nil
	src := e.source
	e.source = nil
	timer := e.stopTimer
	e.stopTimer = nil
	sessionID := e.sessionIDLocked()
	e.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	slog.Info("stopping session", "session_id", sessionID, "reason", reason)
	if conn != nil {
		_ = conn.SendStop()
		if e.cfg.StopGraceDelayMS > 0 {
			time.Sleep(time.Duration(e.cfg.StopGraceDelayMS) * time.Millisecond)
		}
		_ = conn.Close()
	}

	e.mu.Lock()
	e.generation++
	e.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	e.finalize(reason)
	return nil
}

func (e *Engine) finalize(reason string) {
	ctx := context.Background()
	endedAt := time.Now()

	e.mu.Lock()
	finals := e.log.Finals()
	alertCount := e.history.Len()
	duration := e.activeDurationLocked(endedAt)
	sessionID := e.sessionIDLocked()
	e.mu.Unlock()

	metrics := e.aggregate.Metrics()
	summary, err := e.analyzer.Summarize(ctx, analysis.SummaryRequest{
		Transcript: segmentEntries(finals),
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to build session summary", "error", err, "session_id", sessionID)
		summary = nil
	}

	if err := e.webhook.SendSummary(ctx, webhook.SummaryPayload{
		SessionID:       sessionID,
		DurationSeconds: int64(duration.Seconds()),
		Summary:         summary,
		Metrics:         metrics,
		AlertCount:      alertCount,
		EndedAt:         endedAt.Format(time.RFC3339),
	}); err != nil {
		slog.Error("failed to send summary webhook", "error", err, "session_id", sessionID)
	}

	if err := e.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:       sessionID,
		EndedAt:         endedAt,
		StopReason:      reason,
		DurationSeconds: int64(duration.Seconds()),
		AlertCount:      alertCount,
		SummaryJSON:     summary,
	}); err != nil {
		slog.Error("failed to complete session record", "error", err, "session_id", sessionID)
	}
	slog.Info("session finalized", "session_id", sessionID, "duration_seconds", int64(duration.Seconds()), "alerts", alertCount)
}

// TriggerAnalysis forces an analysis pass over the current window without
// waiting for the word threshold.
func (e *Engine) TriggerAnalysis() error {
	e.mu.Lock()
	if e.state != StateStreaming && e.state != StatePaused {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot analyze session in state %q", state)
	}
	req := e.snapshotLocked(time.Now())
	e.mu.Unlock()
	e.dispatchAnalysis(req)
	return nil
}

// analysisSnapshot captures everything an analysis pass needs at trigger
// time, so concurrent transcript growth cannot skew it.
type analysisSnapshot struct {
	segment       []analysis.SegmentEntry
	duration      int
	previousAlert *analysis.Alert
}

func (e *Engine) snapshotLocked(now time.Time) analysisSnapshot {
	return analysisSnapshot{
		segment:       segmentEntries(e.log.FinalWindow(now, e.scheduler.Window())),
		duration:      int(e.activeDurationLocked(now).Minutes()),
		previousAlert: e.history.Latest(),
	}
}

// activeDurationLocked is the elapsed session time excluding paused spans,
// including a pause still in progress.
func (e *Engine) activeDurationLocked(now time.Time) time.Duration {
	d := now.Sub(e.startedAt) - e.pausedTotal
	if e.state == StatePaused {
		d -= now.Sub(e.pausedAt)
	}
	return d
}

func (e *Engine) dispatchAnalysis(snap analysisSnapshot) {
	sessionCtx := analysis.SessionContext{
		SessionType:     e.cfg.SessionType,
		PrimaryConcern:  e.cfg.PrimaryConcern,
		CurrentApproach: e.cfg.CurrentApproach,
		TherapyPhase:    analysis.Phase(snap.duration),
	}
	go e.runRealtime(analysis.Request{
		Kind:            analysis.KindRealtime,
		Segment:         snap.segment,
		Context:         sessionCtx,
		DurationMinutes: snap.duration,
		PreviousAlert:   snap.previousAlert,
	})
	go e.runComprehensive(analysis.Request{
		Kind:            analysis.KindComprehensive,
		Segment:         snap.segment,
		Context:         sessionCtx,
		DurationMinutes: snap.duration,
	})
}

func (e *Engine) runRealtime(req analysis.Request) {
	res, err := e.analyzer.AnalyzeSegment(context.Background(), req)
	if err != nil {
		slog.Error("realtime analysis failed", "error", err)
		return
	}
	if res != nil && res.Alert != nil {
		e.acceptAlert(*res.Alert)
	}
}

func (e *Engine) runComprehensive(req analysis.Request) {
	res, err := e.analyzer.AnalyzeSegment(context.Background(), req)
	if err != nil {
		slog.Error("comprehensive analysis failed", "error", err)
		return
	}
	if res == nil {
		return
	}
	e.aggregate.ApplyMetrics(res.Metrics)
	e.aggregate.ApplyPathway(res.Pathway, time.Now())
	e.aggregate.ApplyCitations(res.Citations)
	if res.Alert != nil {
		e.acceptAlert(*res.Alert)
	}
}

// acceptAlert runs the candidate through the dedup procedure and forwards it
// when accepted.
func (e *Engine) acceptAlert(a analysis.Alert) {
	now := time.Now()
	e.mu.Lock()
	decision := e.history.Evaluate(a, now)
	if !decision.Accepted {
		e.mu.Unlock()
		slog.Debug("alert suppressed", "reason", decision.Reason, "title", a.Title)
		return
	}
	a.Timestamp = now
	a.SessionRelativeSeconds = int(e.activeDurationLocked(now).Seconds())
	e.history.Accept(a, now)
	sessionID := e.sessionIDLocked()
	e.mu.Unlock()

	slog.Info("alert accepted", "title", a.Title, "category", a.Category, "timing", a.Timing)
	if err := e.webhook.SendAlert(context.Background(), webhook.AlertPayload{
		SessionID:              sessionID,
		Alert:                  a,
		SessionRelativeSeconds: a.SessionRelativeSeconds,
		SentAt:                 now.Format(time.RFC3339),
	}); err != nil {
		slog.Error("failed to send alert webhook", "error", err, "session_id", sessionID)
	}
}

func (e *Engine) handleTranscript(gen int, ev transcriber.TranscriptEvent) {
	now := time.Now()
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.log.Apply(transcript.Entry{
		Text:      ev.Transcript,
		Speaker:   ev.Speaker,
		Timestamp: now,
		IsFinal:   ev.IsFinal,
	})
	if !ev.IsFinal || e.state != StateStreaming {
		e.mu.Unlock()
		return
	}
	if !e.scheduler.AddWords(transcript.CountWords(ev.Transcript)) {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked(now)
	e.mu.Unlock()
	e.dispatchAnalysis(snap)
}

func (e *Engine) handleSpeechEvent(gen int, ev transcriber.SpeechEvent) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.speaking = ev.Event == transcriber.SpeechStart
	e.mu.Unlock()
	slog.Debug("speech event", "event", ev.Event)
}

func (e *Engine) setState(s EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) sessionIDLocked() string {
	if e.repoSession == nil {
		return ""
	}
	return e.repoSession.ID
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionIDLocked()
}

func (e *Engine) Transcript() []transcript.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Entries()
}

// Alerts returns the accepted alerts currently eligible for display.
func (e *Engine) Alerts() []analysis.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Presented()
}

func (e *Engine) Aggregate() *State {
	return e.aggregate
}

// Speaking reports whether the transcription backend currently detects
// speech.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func segmentEntries(entries []transcript.Entry) []analysis.SegmentEntry {
	out := make([]analysis.SegmentEntry, 0, len(entries))
	for _, en := range entries {
		out = append(out, analysis.SegmentEntry{
			Speaker:   en.Speaker,
			Text:      en.Text,
			Timestamp: en.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}

// streamReceiver binds incoming channel events to the engine generation
// that opened the channel; events from torn-down channels are dropped.
type streamReceiver struct {
	engine     *Engine
	generation int
}

func (r *streamReceiver) OnReady(ev transcriber.ReadyEvent) {
	slog.Info("transcription channel ready", "session_id", ev.SessionID)
}

func (r *streamReceiver) OnTranscript(ev transcriber.TranscriptEvent) {
	r.engine.handleTranscript(r.generation, ev)
}

func (r *streamReceiver) OnSpeechEvent(ev transcriber.SpeechEvent) {
	r.engine.handleSpeechEvent(r.generation, ev)
}

func (r *streamReceiver) OnError(err error) {
	r.engine.mu.Lock()
	stale := r.generation != r.engine.generation
	r.engine.mu.Unlock()
	if stale {
		slog.Debug("ignoring error from torn-down channel", "error", err)
		return
	}
	slog.Error("transcription channel error", "error", err)
}
