//go:build !capture

package audio

import (
	"fmt"

	"github.com/foxseedlab/mimamorin/internal/audio"
)

func NewMicrophoneSource() (audio.Source, error) {
	return nil, fmt.Errorf("microphone capture requires building with the 'capture' tag")
}
