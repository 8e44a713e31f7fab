package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxseedlab/mimamorin/internal/analysis"
	"github.com/foxseedlab/mimamorin/internal/webhook"
)

func TestSendAlert_PostsJSON(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	payload := webhook.AlertPayload{
		SessionID: "sess-1",
		Alert: analysis.Alert{
			Timing:   analysis.TimingNow,
			Category: analysis.CategorySafety,
			Title:    "Assess immediate safety",
			Message:  "Patient mentioned self-harm.",
		},
		SessionRelativeSeconds: 312,
	}
	if err := sender.SendAlert(context.Background(), payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}
	var decoded webhook.AlertPayload
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("failed to decode request body: %v", err)
	}
	if decoded.SessionID != "sess-1" || decoded.Alert.Title != "Assess immediate safety" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if decoded.SessionRelativeSeconds != 312 {
		t.Fatalf("unexpected session offset: %d", decoded.SessionRelativeSeconds)
	}
}

func TestSendSummary_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	err := sender.SendSummary(context.Background(), webhook.SummaryPayload{SessionID: "sess-1"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSend_EmptyURLIsNoop(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendAlert(context.Background(), webhook.AlertPayload{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := sender.SendSummary(context.Background(), webhook.SummaryPayload{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
