package audio

import (
	"fmt"

	"github.com/foxseedlab/mimamorin/internal/audio"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.SourceFactory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return func(kind audio.SourceKind, path string) (audio.Source, error) {
			switch kind {
			case audio.SourceFile:
				return NewFileSource(path, cfg.FilePlayback)
			case audio.SourceMicrophone:
				return NewMicrophoneSource()
			default:
				return nil, fmt.Errorf("unknown audio source kind %q", kind)
			}
		}, nil
	})
}
