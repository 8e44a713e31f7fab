package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/mimamorin/internal/analysis"
	"github.com/foxseedlab/mimamorin/internal/audio"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/foxseedlab/mimamorin/internal/repository"
	"github.com/foxseedlab/mimamorin/internal/transcriber"
	"github.com/foxseedlab/mimamorin/internal/webhook"
)

type mockSource struct {
	mu       sync.Mutex
	frames   [][]byte
	eofAfter bool
	started  bool
	paused   bool
	resumed  bool
	closed   bool
}

func (m *mockSource) Kind() audio.SourceKind { return audio.SourceFile }
func (m *mockSource) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, Encoding: "LINEAR16"}
}
func (m *mockSource) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}
func (m *mockSource) ReadFrame() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return nil, nil
	}
	if len(m.frames) == 0 {
		if m.eofAfter {
			return nil, io.EOF
		}
		return nil, nil
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	return f, nil
}
func (m *mockSource) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}
func (m *mockSource) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.resumed = true
	return nil
}
func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockConn struct {
	mu      sync.Mutex
	frames  [][]byte
	stopped bool
	closed  bool
}

func (c *mockConn) SendFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.frames = append(c.frames, frame)
	return nil
}
func (c *mockConn) SendStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}
func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *mockConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
func (c *mockConn) tornDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped && c.closed
}

type mockStreamer struct {
	mu        sync.Mutex
	inits     []transcriber.InitMessage
	conns     []*mockConn
	receivers []transcriber.EventReceiver
}

func (s *mockStreamer) OpenStream(_ context.Context, init transcriber.InitMessage, receiver transcriber.EventReceiver) (transcriber.StreamConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := &mockConn{}
	s.inits = append(s.inits, init)
	s.conns = append(s.conns, conn)
	s.receivers = append(s.receivers, receiver)
	return conn, nil
}

func (s *mockStreamer) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *mockStreamer) receiver(i int) transcriber.EventReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivers[i]
}

func (s *mockStreamer) conn(i int) *mockConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

type mockAnalyzer struct {
	mu        sync.Mutex
	requests  []analysis.Request
	resultFor func(analysis.Request) *analysis.Result
	summaries []analysis.SummaryRequest
}

func (m *mockAnalyzer) AnalyzeSegment(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.resultFor
	m.mu.Unlock()
	if fn != nil {
		return fn(req), nil
	}
	return &analysis.Result{}, nil
}

func (m *mockAnalyzer) Summarize(_ context.Context, req analysis.SummaryRequest) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, req)
	return json.RawMessage(`{"summary":"done"}`), nil
}

func (m *mockAnalyzer) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockAnalyzer) requestAt(i int) analysis.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

type mockSender struct {
	mu        sync.Mutex
	alerts    []webhook.AlertPayload
	summaries []webhook.SummaryPayload
}

func (m *mockSender) SendAlert(_ context.Context, payload webhook.AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, payload)
	return nil
}

func (m *mockSender) SendSummary(_ context.Context, payload webhook.SummaryPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, payload)
	return nil
}

func (m *mockSender) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func (m *mockSender) summaryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.summaries)
}

type mockRepository struct {
	mu          sync.Mutex
	createCount int
	completed   []repository.CompleteSessionInput
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCount++
	return &repository.Session{
		ID:         fmt.Sprintf("session-%d", m.createCount),
		SourceKind: input.SourceKind,
		StartedAt:  input.StartedAt,
		Status:     repository.SessionStatusRunning,
	}, nil
}

func (m *mockRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetSession(_ context.Context, _ string) (*repository.Session, error) {
	return nil, nil
}

func (m *mockRepository) CloseOrphanSessions(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockRepository) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		TranscribeServiceURL:  "ws://transcribe.local/ws",
		AnalysisServiceURL:    "http://analysis.local",
		AudioSource:           "file",
		AudioFilePath:         "session.wav",
		DatabaseURL:           "postgres://localhost/test",
		SessionType:           "CBT",
		PrimaryConcern:        "anxiety",
		CurrentApproach:       "cognitive restructuring",
		MaxSessionDurationMin: 60,
		StreamSettleDelayMS:   0,
		StopGraceDelayMS:      0,
		FrameIntervalMS:       5,
		AnalysisWordThreshold: 10,
		AnalysisWindowMin:     5,
		AlertRetentionMin:     10,
	}
}

type testHarness struct {
	engine   *Engine
	source   *mockSource
	streamer *mockStreamer
	analyzer *mockAnalyzer
	sender   *mockSender
	repo     *mockRepository
}

func newTestHarness(cfg *config.Config) *testHarness {
	h := &testHarness{
		source:   &mockSource{},
		streamer: &mockStreamer{},
		analyzer: &mockAnalyzer{},
		sender:   &mockSender{},
		repo:     &mockRepository{},
	}
	factory := func(_ audio.SourceKind, _ string) (audio.Source, error) {
		return h.source, nil
	}
	h.engine = NewEngine(cfg, h.streamer, h.analyzer, h.sender, h.repo, factory)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func finalEvent(words string) transcriber.TranscriptEvent {
	return transcriber.TranscriptEvent{Transcript: words, Speaker: "patient", IsFinal: true}
}

func TestEngine_StartOpensChannelAndFeedsFrames(t *testing.T) {
	h := newTestHarness(testConfig())
	h.source.frames = [][]byte{{1, 2}, {3, 4}, {5, 6}}

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = h.engine.Stop("test cleanup") }()

	if got := h.engine.State(); got != StateStreaming {
		t.Fatalf("expected streaming state, got %q", got)
	}
	if h.engine.SessionID() != "session-1" {
		t.Fatalf("unexpected session id %q", h.engine.SessionID())
	}

	init := h.streamer.inits[0]
	if init.SessionID != "session-1" {
		t.Fatalf("init carried wrong session id %q", init.SessionID)
	}
	if init.Config.SampleRate != 16000 || init.Config.Encoding != "LINEAR16" {
		t.Fatalf("init carried wrong audio config: %+v", init.Config)
	}

	waitFor(t, "all frames forwarded", func() bool { return h.streamer.conn(0).frameCount() == 3 })
}

func TestEngine_StartRejectedWhenAlreadyRunning(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = h.engine.Stop("test cleanup") }()

	if err := h.engine.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestEngine_WordThresholdFiresBothAnalysisKinds(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = h.engine.Stop("test cleanup") }()
	receiver := h.streamer.receiver(0)

	// Interim results never count toward the threshold.
	receiver.OnTranscript(transcriber.TranscriptEvent{Transcript: "one two three four five six seven eight nine ten", IsFinal: false})
	receiver.OnTranscript(finalEvent("one two three four five"))
	if got := h.analyzer.requestCount(); got != 0 {
		t.Fatalf("threshold not reached yet, but %d requests fired", got)
	}

	receiver.OnTranscript(finalEvent("six seven eight nine ten"))
	waitFor(t, "two analysis requests", func() bool { return h.analyzer.requestCount() == 2 })

	kinds := map[analysis.Kind]bool{}
	for i := 0; i < 2; i++ {
		req := h.analyzer.requestAt(i)
		kinds[req.Kind] = true
		if len(req.Segment) != 2 {
			t.Fatalf("expected both finals in segment, got %d entries", len(req.Segment))
		}
		if req.Context.SessionType != "CBT" || req.Context.PrimaryConcern != "anxiety" {
			t.Fatalf("unexpected session context: %+v", req.Context)
		}
		if req.Context.TherapyPhase != "beginning" {
			t.Fatalf("expected derived therapy phase, got %q", req.Context.TherapyPhase)
		}
	}
	if !kinds[analysis.KindRealtime] || !kinds[analysis.KindComprehensive] {
		t.Fatalf("expected one realtime and one comprehensive request, got %v", kinds)
	}

	// The counter reset on fire: five more words stay below the threshold.
	receiver.OnTranscript(finalEvent("eleven twelve thirteen fourteen fifteen"))
	time.Sleep(50 * time.Millisecond)
	if got := h.analyzer.requestCount(); got != 2 {
		t.Fatalf("counter must reset after firing, got %d requests", got)
	}
}

func TestEngine_AcceptedAlertSentOnceAndDuplicateSuppressed(t *testing.T) {
	h := newTestHarness(testConfig())
	h.analyzer.resultFor = func(req analysis.Request) *analysis.Result {
		if req.Kind != analysis.KindRealtime {
			return &analysis.Result{}
		}
		return &analysis.Result{Alert: &analysis.Alert{
			Timing:   analysis.TimingPause,
			Category: analysis.CategoryTechnique,
			Title:    "Suggest grounding exercise",
			Message:  "Patient shows rising distress; a grounding exercise may help.",
		}}
	}
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = h.engine.Stop("test cleanup") }()

	if err := h.engine.TriggerAnalysis(); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	waitFor(t, "alert webhook", func() bool { return h.sender.alertCount() == 1 })

	// Same alert again within the spacing window: suppressed.
	if err := h.engine.TriggerAnalysis(); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	waitFor(t, "second analysis round", func() bool { return h.analyzer.requestCount() == 4 })
	time.Sleep(50 * time.Millisecond)
	if got := h.sender.alertCount(); got != 1 {
		t.Fatalf("duplicate alert must be suppressed, got %d webhooks", got)
	}

	if got := len(h.engine.Alerts()); got != 1 {
		t.Fatalf("expected 1 presented alert, got %d", got)
	}

	// The realtime request of the second round carries the accepted alert
	// as a suppression hint.
	var sawHint bool
	for i := 2; i < 4; i++ {
		req := h.analyzer.requestAt(i)
		if req.Kind == analysis.KindRealtime && req.PreviousAlert != nil &&
			req.PreviousAlert.Title == "Suggest grounding exercise" {
			sawHint = true
		}
	}
	if !sawHint {
		t.Fatal("expected previous alert forwarded on the realtime request")
	}
}

func TestEngine_PauseTearsDownChannelAndResumeOpensFreshOne(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = h.engine.Stop("test cleanup") }()
	receiver := h.streamer.receiver(0)
	receiver.OnTranscript(finalEvent("hello there"))

	if err := h.engine.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if got := h.engine.State(); got != StatePaused {
		t.Fatalf("expected paused state, got %q", got)
	}
	if !h.streamer.conn(0).tornDown() {
		t.Fatal("pause must send stop and close the channel")
	}
	if !h.source.paused {
		t.Fatal("pause must pause the audio source")
	}

	// Events from the torn-down channel are dropped.
	receiver.OnTranscript(finalEvent("stale words from old channel"))
	if got := len(h.engine.Transcript()); got != 1 {
		t.Fatalf("stale event must be dropped, transcript has %d entries", got)
	}

	if err := h.engine.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if got := h.streamer.openCount(); got != 2 {
		t.Fatalf("resume must open a fresh channel, got %d opens", got)
	}
	if !h.source.resumed {
		t.Fatal("resume must resume the audio source")
	}

	// The fresh channel delivers; the transcript and history survived.
	h.streamer.receiver(1).OnTranscript(finalEvent("back again"))
	if got := len(h.engine.Transcript()); got != 2 {
		t.Fatalf("expected transcript to survive pause, got %d entries", got)
	}
}

func TestEngine_StopWhilePausedExcludesPausedTime(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.engine.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	// Sit in the paused state long enough that counting it as active time
	// would round up to a full second.
	time.Sleep(1200 * time.Millisecond)
	if err := h.engine.Stop("clinician request"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if got := h.repo.completed[0].DurationSeconds; got != 0 {
		t.Fatalf("paused time counted as session duration: duration_seconds=%d, want 0", got)
	}
	if got := h.sender.summaries[0].DurationSeconds; got != 0 {
		t.Fatalf("paused time counted in summary payload: duration_seconds=%d, want 0", got)
	}
}

func TestEngine_PauseRejectedWhenNotStreaming(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Pause(); err == nil {
		t.Fatal("expected pause to fail before start")
	}
	if err := h.engine.Resume(); err == nil {
		t.Fatal("expected resume to fail before start")
	}
}

func TestEngine_StopFinalizesSession(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.streamer.receiver(0).OnTranscript(finalEvent("a short exchange"))

	if err := h.engine.Stop("clinician request"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := h.engine.State(); got != StateStopped {
		t.Fatalf("expected stopped state, got %q", got)
	}
	if !h.streamer.conn(0).tornDown() {
		t.Fatal("stop must send the stop marker and close the channel")
	}
	if !h.source.closed {
		t.Fatal("stop must close the audio source")
	}

	if len(h.analyzer.summaries) != 1 {
		t.Fatalf("expected one summary request, got %d", len(h.analyzer.summaries))
	}
	if len(h.analyzer.summaries[0].Transcript) != 1 {
		t.Fatalf("summary must cover the finalized transcript, got %d entries", len(h.analyzer.summaries[0].Transcript))
	}
	if h.sender.summaryCount() != 1 {
		t.Fatalf("expected summary webhook, got %d", h.sender.summaryCount())
	}
	if h.repo.completedCount() != 1 {
		t.Fatalf("expected session record completed, got %d", h.repo.completedCount())
	}
	if h.repo.completed[0].StopReason != "clinician request" {
		t.Fatalf("unexpected stop reason %q", h.repo.completed[0].StopReason)
	}

	if err := h.engine.Stop("again"); err == nil {
		t.Fatal("expected second stop to fail")
	}
}

func TestEngine_ExhaustedAudioFileStopsSession(t *testing.T) {
	h := newTestHarness(testConfig())
	h.source.frames = [][]byte{{1, 2}}
	h.source.eofAfter = true

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "auto stop on exhausted file", func() bool { return h.engine.State() == StateStopped })
	waitFor(t, "session record completed", func() bool { return h.repo.completedCount() == 1 })
	if got := h.repo.completed[0].StopReason; got != "audio source exhausted" {
		t.Fatalf("unexpected stop reason %q", got)
	}
}

func TestEngine_TriggerAnalysisRejectedAfterStop(t *testing.T) {
	h := newTestHarness(testConfig())
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.engine.Stop("done"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := h.engine.TriggerAnalysis(); err == nil {
		t.Fatal("expected trigger to fail after stop")
	}
}
