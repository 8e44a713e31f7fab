package session

import (
	"github.com/foxseedlab/mimamorin/internal/analysis"
	"github.com/foxseedlab/mimamorin/internal/audio"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/foxseedlab/mimamorin/internal/repository"
	"github.com/foxseedlab/mimamorin/internal/transcriber"
	"github.com/foxseedlab/mimamorin/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		streamer := do.MustInvoke[transcriber.Streamer](i)
		analyzer := do.MustInvoke[analysis.Analyzer](i)
		wh := do.MustInvoke[webhook.Sender](i)
		repo := do.MustInvoke[repository.Repository](i)
		newSource := do.MustInvoke[audio.SourceFactory](i)
		return NewEngine(cfg, streamer, analyzer, wh, repo, newSource), nil
	})
}
