//go:build capture

package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/foxseedlab/mimamorin/internal/audio"
	"github.com/gen2brain/malgo"
	"github.com/hraban/opus"
)

const (
	micSampleRate      = 48000
	micChannels        = 1
	opusFrameMS        = 20
	samplesPerPacket   = micSampleRate * opusFrameMS / 1000
	maxOpusPacketBytes = 1275
)

// MicrophoneSource captures PCM from the default input device and encodes
// it into self-delimited opus packets. Pausing releases the capture device;
// resuming re-acquires it.
type MicrophoneSource struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	encoder *opus.Encoder
	pending []int16
	packets [][]byte
	started bool
	closed  bool
}

func NewMicrophoneSource() (audio.Source, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	enc, err := opus.NewEncoder(micSampleRate, micChannels, opus.AppVoIP)
	if err != nil {
		_ = mctx.Uninit()
		return nil, fmt.Errorf("init opus encoder: %w", err)
	}
	return &MicrophoneSource{ctx: mctx, encoder: enc}, nil
}

func (s *MicrophoneSource) Kind() audio.SourceKind {
	return audio.SourceMicrophone
}

func (s *MicrophoneSource) Format() audio.Format {
	return audio.Format{SampleRate: micSampleRate, Channels: micChannels, Encoding: "OPUS"}
}

func (s *MicrophoneSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("microphone source already started")
	}
	if err := s.acquireDeviceLocked(); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *MicrophoneSource) acquireDeviceLocked() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = micChannels
	deviceConfig.SampleRate = micSampleRate
	deviceConfig.PeriodSizeInMilliseconds = opusFrameMS

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.ingestPCM(input)
		},
	}
	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	s.device = device
	return nil
}

func (s *MicrophoneSource) releaseDeviceLocked() {
	if s.device == nil {
		return
	}
	_ = s.device.Stop()
	s.device.Uninit()
	s.device = nil
}

func (s *MicrophoneSource) ingestPCM(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := 0; i+1 < len(input); i += 2 {
		s.pending = append(s.pending, int16(input[i])|int16(input[i+1])<<8)
	}
	for len(s.pending) >= samplesPerPacket {
		frame := s.pending[:samplesPerPacket]
		s.pending = s.pending[samplesPerPacket:]
		buf := make([]byte, maxOpusPacketBytes)
		n, err := s.encoder.Encode(frame, buf)
		if err != nil {
			continue
		}
		s.packets = append(s.packets, buf[:n])
	}
}

func (s *MicrophoneSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if len(s.packets) == 0 {
		return nil, nil
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}

func (s *MicrophoneSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseDeviceLocked()
	return nil
}

func (s *MicrophoneSource) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}
	return s.acquireDeviceLocked()
}

func (s *MicrophoneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseDeviceLocked()
	return s.ctx.Uninit()
}
