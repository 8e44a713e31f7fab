package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/mimamorin/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

type WebsocketStreamer struct {
	serviceURL string
}

func NewWebsocketStreamer(serviceURL string) transcriber.Streamer {
	return &WebsocketStreamer{serviceURL: serviceURL}
}

func (s *WebsocketStreamer) OpenStream(ctx context.Context, init transcriber.InitMessage, receiver transcriber.EventReceiver) (transcriber.StreamConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, s.serviceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial transcription service: %w", err)
	}

	initBody, err := json.Marshal(init)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("marshal init message: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, initBody); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send init message: %w", err)
	}
	slog.Info("transcription stream opened", "session_id", init.SessionID, "encoding", init.Config.Encoding, "sample_rate", init.Config.SampleRate)

	conn := &wsConn{ws: ws}
	go conn.readLoop(receiver)
	return conn, nil
}

type wsConn struct {
	mu     sync.Mutex
	closed bool
	ws     *websocket.Conn
}

// inboundEvent is the discriminated union read off the wire. Only the
// fields for the matching type are populated.
type inboundEvent struct {
	Type string `json:"type"`
	transcriber.ReadyEvent
	transcriber.TranscriptEvent
	transcriber.SpeechEvent
	Error string `json:"error"`
}

func (c *wsConn) SendFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// Frames produced while the channel is down are dropped, not buffered.
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send audio frame: %w", err)
	}
	return nil
}

func (c *wsConn) SendStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		return fmt.Errorf("send stop message: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	return c.ws.Close()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) readLoop(receiver transcriber.EventReceiver) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("transcription stream read loop stopped", "reason", err.Error())
				return
			}
			receiver.OnError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var ev inboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("skipping malformed transcription event", "error", err)
			continue
		}
		switch ev.Type {
		case "ready":
			receiver.OnReady(ev.ReadyEvent)
		case "transcript":
			receiver.OnTranscript(ev.TranscriptEvent)
		case "speech_event":
			receiver.OnSpeechEvent(ev.SpeechEvent)
		case "error":
			// Service-reported errors do not terminate the channel; the read
			// loop ends only when the connection itself does.
			receiver.OnError(fmt.Errorf("transcription service error: %s", ev.Error))
		default:
			slog.Debug("ignoring unknown transcription event", "type", ev.Type)
		}
	}
}
