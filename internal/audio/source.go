package audio

import "context"

type SourceKind string

const (
	SourceMicrophone SourceKind = "microphone"
	SourceFile       SourceKind = "file"
)

type Format struct {
	SampleRate int
	Channels   int
	// Encoding is the wire encoding name announced in the stream init
	// message, e.g. "OPUS" or "LINEAR16".
	Encoding string
}

// Source produces audio frames ready for transmission. ReadFrame returns
// (nil, nil) when no frame is currently available and io.EOF once a file
// source is exhausted.
type Source interface {
	Kind() SourceKind
	Format() Format
	Start(ctx context.Context) error
	ReadFrame() ([]byte, error)
	// Pause halts frame production. File sources also pause playback while
	// keeping their position; microphone sources release the capture
	// device.
	Pause() error
	// Resume restarts production: a file source continues from its kept
	// position, a microphone source re-acquires the device.
	Resume() error
	Close() error
}

type SourceFactory func(kind SourceKind, path string) (Source, error)
