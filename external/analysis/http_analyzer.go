package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/mimamorin/internal/analysis"
)

const maxResponseLineBytes = 1 << 20

type HTTPAnalyzer struct {
	serviceURL string
	authToken  string
	client     *http.Client
}

func NewHTTPAnalyzer(serviceURL, authToken string) analysis.Analyzer {
	return &HTTPAnalyzer{
		serviceURL: serviceURL,
		authToken:  authToken,
		client:     &http.Client{},
	}
}

type segmentAnalysisBody struct {
	Action                 string                   `json:"action"`
	TranscriptSegment      []analysis.SegmentEntry  `json:"transcript_segment"`
	SessionContext         analysis.SessionContext  `json:"session_context"`
	SessionDurationMinutes int                      `json:"session_duration_minutes"`
	IsRealtime             bool                     `json:"is_realtime"`
	PreviousAlert          *analysis.Alert          `json:"previous_alert"`
}

type summaryBody struct {
	Action         string                   `json:"action"`
	FullTranscript []analysis.SegmentEntry  `json:"full_transcript"`
	SessionMetrics *analysis.SessionMetrics `json:"session_metrics,omitempty"`
}

// responseLine is one NDJSON line of an analyze_segment response. Lines may
// carry any subset of the fields; unparseable lines are skipped.
type responseLine struct {
	Alert             *analysis.Alert             `json:"alert"`
	SessionMetrics    *analysis.SessionMetrics    `json:"session_metrics"`
	PathwayIndicators *analysis.PathwayIndicators `json:"pathway_indicators"`
	Citations         []analysis.Citation         `json:"citations"`
	Error             string                      `json:"error"`
}

func (a *HTTPAnalyzer) AnalyzeSegment(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	var previousAlert *analysis.Alert
	if req.Kind == analysis.KindRealtime {
		previousAlert = req.PreviousAlert
	}
	body := segmentAnalysisBody{
		Action:                 "analyze_segment",
		TranscriptSegment:      req.Segment,
		SessionContext:         req.Context,
		SessionDurationMinutes: req.DurationMinutes,
		IsRealtime:             req.Kind == analysis.KindRealtime,
		PreviousAlert:          previousAlert,
	}

	resp, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	result := &analysis.Result{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed responseLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			// One bad line never discards the rest of the response.
			slog.Warn("skipping malformed analysis response line", "error", err, "line_bytes", len(line))
			continue
		}
		if parsed.Error != "" {
			slog.Warn("analysis service reported an error line", "error", parsed.Error, "kind", req.Kind)
			continue
		}
		if parsed.Alert != nil {
			result.Alert = parsed.Alert
		}
		if parsed.SessionMetrics != nil {
			result.Metrics = parsed.SessionMetrics
		}
		if parsed.PathwayIndicators != nil {
			result.Pathway = parsed.PathwayIndicators
		}
		if len(parsed.Citations) > 0 {
			result.Citations = parsed.Citations
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	return result, nil
}

func (a *HTTPAnalyzer) Summarize(ctx context.Context, req analysis.SummaryRequest) (json.RawMessage, error) {
	body := summaryBody{
		Action:         "session_summary",
		FullTranscript: req.Transcript,
		SessionMetrics: req.Metrics,
	}
	resp, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Summary json.RawMessage `json:"summary"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode session summary: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("session summary failed: %s", parsed.Error)
	}
	return parsed.Summary, nil
}

func (a *HTTPAnalyzer) post(ctx context.Context, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serviceURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.authToken)
	}
	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	slog.Debug("analysis service call completed", "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
