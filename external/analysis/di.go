package analysis

import (
	"github.com/foxseedlab/mimamorin/internal/analysis"
	"github.com/foxseedlab/mimamorin/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (analysis.Analyzer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPAnalyzer(c.AnalysisServiceURL, c.ServiceAuthToken), nil
	})
}
