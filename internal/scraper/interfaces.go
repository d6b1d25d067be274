package scraper

import "context"

// BrowserLauncher starts one browser process per orchestrator run.
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser opens isolated contexts against mirror instances.
type Browser interface {
	// Open renders target on instance. Failures are *Failure values.
	Open(ctx context.Context, instance string, target Target) (RenderedPage, error)
	Close()
}

// Extractor parses rendered markup into a record.
type Extractor interface {
	Extract(page RenderedPage, target Target) (Extraction, error)
}

// MediaResolver validates media candidates and synthesizes missing posters.
type MediaResolver interface {
	Resolve(ctx context.Context, extraction Extraction) PostRecord
}

// IDGenerator produces correlation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
