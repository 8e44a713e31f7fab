package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/foxseedlab/mimamorin/internal/audio"
)

const frameDurationMS = 100

// FileSource streams a PCM WAV file in ~100ms LINEAR16 chunks. When
// playback is enabled the same chunks are fed to the speakers through oto,
// so pausing the stream pauses the audible playback at the same position.
type FileSource struct {
	format     audio.Format
	data       []byte
	frameBytes int

	mu      sync.Mutex
	offset  int
	started bool
	paused  bool
	closed  bool

	playback bool
	monitor  *monitorBuffer
	otoCtx   *oto.Context
	player   *oto.Player
}

func NewFileSource(path string, playback bool) (audio.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	format, data, err := parseWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("parse audio file %s: %w", path, err)
	}
	frameBytes := format.SampleRate * format.Channels * 2 * frameDurationMS / 1000
	return &FileSource{
		format:     format,
		data:       data,
		frameBytes: frameBytes,
		playback:   playback,
	}, nil
}

func (s *FileSource) Kind() audio.SourceKind {
	return audio.SourceFile
}

func (s *FileSource) Format() audio.Format {
	return s.format
}

func (s *FileSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("file source already started")
	}
	s.started = true
	if !s.playback {
		return nil
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   s.format.SampleRate,
		ChannelCount: s.format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		// Playback is monitoring only; streaming proceeds without it.
		slog.Warn("audio playback unavailable; continuing without monitoring", "error", err)
		s.playback = false
		return nil
	}
	<-ready
	s.otoCtx = otoCtx
	s.monitor = newMonitorBuffer()
	s.player = otoCtx.NewPlayer(s.monitor)
	s.player.Play()
	return nil
}

func (s *FileSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if !s.started || s.paused {
		return nil, nil
	}
	if s.offset >= len(s.data) {
		return nil, io.EOF
	}
	end := s.offset + s.frameBytes
	if end > len(s.data) {
		end = len(s.data)
	}
	frame := make([]byte, end-s.offset)
	copy(frame, s.data[s.offset:end])
	s.offset = end
	if s.playback && s.monitor != nil {
		s.monitor.push(frame)
	}
	return frame, nil
}

func (s *FileSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.player != nil {
		s.player.Pause()
	}
	return nil
}

func (s *FileSource) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.player != nil {
		s.player.Play()
	}
	return nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.monitor != nil {
		s.monitor.close()
	}
	if s.player != nil {
		return s.player.Close()
	}
	return nil
}

// Position is the amount of streamed audio, in bytes of PCM data.
func (s *FileSource) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// monitorBuffer hands streamed chunks to the oto player. Writes never
// block; reads block until data arrives or the buffer is closed.
type monitorBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newMonitorBuffer() *monitorBuffer {
	m := &monitorBuffer{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *monitorBuffer) push(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.buf = append(m.buf, chunk...)
	m.cond.Signal()
}

func (m *monitorBuffer) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.buf) == 0 && m.closed {
		return 0, io.EOF
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *monitorBuffer) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// parseWAV extracts the format and raw PCM data of a 16-bit PCM RIFF/WAVE
// file.
func parseWAV(raw []byte) (audio.Format, []byte, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return audio.Format{}, nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	var format audio.Format
	var data []byte
	haveFmt := false
	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := raw[pos+8:]
		if chunkSize > len(body) {
			chunkSize = len(body)
		}
		body = body[:chunkSize]
		switch chunkID {
		case "fmt ":
			if len(body) < 16 {
				return audio.Format{}, nil, fmt.Errorf("fmt chunk too short")
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bitsPerSample := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bitsPerSample != 16 {
				return audio.Format{}, nil, fmt.Errorf("only 16-bit PCM is supported (format=%d bits=%d)", audioFormat, bitsPerSample)
			}
			format = audio.Format{
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				Encoding:   "LINEAR16",
			}
			haveFmt = true
		case "data":
			data = body
		}
		// Chunks are word-aligned.
		pos += 8 + chunkSize + chunkSize%2
	}
	if !haveFmt {
		return audio.Format{}, nil, fmt.Errorf("missing fmt chunk")
	}
	if len(data) == 0 {
		return audio.Format{}, nil, fmt.Errorf("missing data chunk")
	}
	return format, data, nil
}
