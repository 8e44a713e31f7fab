package transcriber

import "context"

// InitMessage is the first text frame sent on a freshly opened stream.
type InitMessage struct {
	SessionID string     `json:"session_id"`
	AuthToken *string    `json:"auth_token"`
	Config    InitConfig `json:"config"`
}

type InitConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

type ReadyEvent struct {
	SessionID string `json:"session_id"`
}

type TranscriptEvent struct {
	Transcript      string  `json:"transcript"`
	Confidence      float64 `json:"confidence"`
	IsFinal         bool    `json:"is_final"`
	Speaker         string  `json:"speaker,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`
	ResultEndOffset float64 `json:"result_end_offset,omitempty"`
	Words           []Word  `json:"words,omitempty"`
}

type Word struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	Speaker    int     `json:"speaker"`
}

const (
	SpeechStart = "speech_start"
	SpeechEnd   = "speech_end"
)

type SpeechEvent struct {
	Event string `json:"event"`
}

type EventReceiver interface {
	OnReady(ev ReadyEvent)
	OnTranscript(ev TranscriptEvent)
	OnSpeechEvent(ev SpeechEvent)
	OnError(err error)
}

// StreamConn is one live channel to the transcription backend. SendFrame
// silently drops the frame once the channel is closed.
type StreamConn interface {
	SendFrame(frame []byte) error
	SendStop() error
	Close() error
}

type Streamer interface {
	OpenStream(ctx context.Context, init InitMessage, receiver EventReceiver) (StreamConn, error)
}
