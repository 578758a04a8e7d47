package config

import (
	"fmt"

	"github.com/54b3r/kbrag-go/internal/ingestion"
)

// Loaders returns one ingestion.Loader per configured source, in order. The
// built-in FAQ is prepended when IncludeFAQ is set or no source is
// configured, so an unconfigured kbrag still has a corpus to serve.
func (c CorpusConfig) Loaders() ([]ingestion.Loader, error) {
	var loaders []ingestion.Loader
	if c.IncludeFAQ || len(c.Sources) == 0 {
		loaders = append(loaders, &ingestion.StaticLoader{
			Label:      "builtin-faq",
			SourceType: ingestion.SourceGeneral,
			Records:    ingestion.DefaultFAQ(),
		})
	}
	for i, src := range c.Sources {
		t, err := ingestion.ParseSourceType(src.Type)
		if err != nil {
			return nil, fmt.Errorf("config: corpus source %d: %w", i, err)
		}
		l, err := ingestion.NewLoader(src.Path, src.Format, t)
		if err != nil {
			return nil, fmt.Errorf("config: corpus source %d: %w", i, err)
		}
		loaders = append(loaders, l)
	}
	return loaders, nil
}
