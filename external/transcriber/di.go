package transcriber

import (
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/foxseedlab/mimamorin/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Streamer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewWebsocketStreamer(c.TranscribeServiceURL), nil
	})
}
