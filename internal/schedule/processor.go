package schedule

import (
	"math"
	"os"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// ProcessorConfig identifies one (symbol, date) ingestion run.
type ProcessorConfig struct {
	Symbol     string
	Date       time.Time
	Start      time.Time
	End        time.Time
	CacheDir   string
	FilePrefix string
	// SynthesizeCompensation enables the reject feed pipeline: only rejection
	// records survive and each gets a paired compensation event.
	SynthesizeCompensation bool
}

// Validate checks if the processor config is usable.
func (c ProcessorConfig) Validate() error {
	if c.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "processor config: Symbol is empty")
	}
	if c.CacheDir == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "processor config: CacheDir is empty")
	}
	if c.FilePrefix == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "processor config: FilePrefix is empty")
	}
	if !c.End.After(c.Start) {
		return errors.Wrap(exception.ErrInvalidArgument, "processor config: End must be after Start")
	}
	return nil
}

// Processor runs the cache-check -> load -> canonicalize -> persist pipeline.
type Processor struct {
	cfg ProcessorConfig
}

// NewProcessor validates the config and creates a processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg}, nil
}

// CachePath returns the deterministic cache location for this run.
func (p *Processor) CachePath() string {
	return CachePath(p.cfg.CacheDir, p.cfg.FilePrefix, p.cfg.Symbol, p.cfg.Date)
}

// Process returns the event schedule for the configured (symbol, date). A
// valid cache short-circuits the load entirely, so repeat runs are idempotent
// and never re-read the raw source. A present-but-corrupt cache is fatal.
func (p *Processor) Process(load func() ([]schema.Event, error)) (*Schedule, error) {
	path := p.CachePath()
	if _, err := os.Stat(path); err == nil {
		logs.Infof("processed schedule exists for %s %s: %s", p.cfg.Symbol, p.cfg.Date.Format("2006-01-02"), path)
		return ReadCache(path)
	}

	logs.Infof("processed schedule missing for %s %s, processing", p.cfg.Symbol, p.cfg.Date.Format("2006-01-02"))
	events, err := load()
	if err != nil {
		return nil, err
	}

	startNano, endNano := p.cfg.Start.UnixNano(), p.cfg.End.UnixNano()
	if p.cfg.SynthesizeCompensation {
		// The window bounds the raw rejects only. A reject near the end of the
		// window still owes its unwind, so the synthesized compensations are
		// exempt from the cut.
		events = clipWindow(events, startNano, endNano)
		events = SynthesizeCompensations(events)
		endNano = math.MaxInt64
	}

	s, err := Build(events, startNano, endNano)
	if err != nil {
		return nil, err
	}
	if err := WriteCache(path, s); err != nil {
		return nil, errors.Wrap(err, "persist schedule cache")
	}

	logs.Infof("number of orders: %d", s.EventCount())
	return s, nil
}

// clipWindow keeps events with startNano <= ts < endNano.
func clipWindow(events []schema.Event, startNano, endNano int64) []schema.Event {
	kept := make([]schema.Event, 0, len(events))
	for _, event := range events {
		if event.TsNano >= startNano && event.TsNano < endNano {
			kept = append(kept, event)
		}
	}
	return kept
}
