// Package app sequences startup, day rollover and shutdown across every
// registered domain.
package app

import (
	"context"
	"sync"
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/task"
)

const RolloverTimer = "dayRolloverInterval"

// Store reads persisted domain snapshots.
type Store interface {
	GetByID(ctx context.Context, collection, key string) (map[string]any, error)
}

type Domains interface {
	All() []interfaces.Domain
}

// DayTracker records the trading date the day hooks last ran for and
// hosts the rollover watcher.
type DayTracker interface {
	interfaces.Timers
	LastInitDate() string
	SetLastInitDate(date string)
}

// Compressor archives old journal files.
type Compressor interface {
	CompressOlder(retentionDays int) error
}

type Config struct {
	Collection    string
	WatchInterval time.Duration
	RetentionDays int
}

type Deps struct {
	Domains    Domains
	Day        DayTracker
	Store      Store
	Summarizer eod.Summarizer
	Journal    Compressor
	Now        func() time.Time
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu sync.Mutex
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Minute
	}
	now := deps.Now
	if now == nil {
		now = eod.Now
	}
	return &Orchestrator{cfg: cfg, deps: deps, now: now}
}

// Startup restores every domain, verifies broker sessions, runs the day
// hooks when the trading date changed and finally the start hooks. Each
// step completes for all domains before the next begins.
func (o *Orchestrator) Startup(ctx context.Context) error {
	op := logger.StartOperation(ctx, "app.Startup")
	ctx = op.GetContext()

	domains := o.deps.Domains.All()

	for _, d := range domains {
		o.load(ctx, d)
	}

	for _, d := range domains {
		v, ok := d.(interfaces.SessionVerifier)
		if !ok {
			continue
		}
		if err := v.VerifySession(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Session verification failed", err, "domain", d.ID())
		}
	}

	o.RollOver(ctx)

	for _, d := range domains {
		if err := d.StartingFunctionsAtInitialize(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Start hook failed", err, "domain", d.ID())
		}
	}

	o.deps.Day.SetIntervalAndUpdate(RolloverTimer, task.Every(o.cfg.WatchInterval, func() {
		o.Watch(ctx)
	}))

	op.End("domains", len(domains))
	return nil
}

func (o *Orchestrator) load(ctx context.Context, d interfaces.Domain) {
	l, ok := d.(interfaces.Loader)
	if !ok || o.deps.Store == nil {
		return
	}
	doc, err := o.deps.Store.GetByID(ctx, o.cfg.Collection, d.ID())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load persisted state, starting fresh", err, "domain", d.ID())
		return
	}
	if doc == nil {
		logger.Debug(ctx, "No persisted state", "domain", d.ID())
		return
	}
	l.Load(doc)
	logger.Debug(ctx, "Restored persisted state", "domain", d.ID(), "fields", len(doc))
}

// RollOver runs every domain's day hook once per IST trading date and
// reports whether it did.
func (o *Orchestrator) RollOver(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	last := o.deps.Day.LastInitDate()
	if !eod.ShouldRollOver(last, now) {
		return false
	}

	today := eod.TradingDate(now)
	logger.Info(ctx, "New trading day", "date", today, "previous", last)
	for _, d := range o.deps.Domains.All() {
		if err := d.UpdateDbAtInitOfDay(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Day hook failed", err, "domain", d.ID())
		}
	}
	o.deps.Day.SetLastInitDate(today)

	if o.deps.Journal != nil && o.cfg.RetentionDays > 0 {
		if err := o.deps.Journal.CompressOlder(o.cfg.RetentionDays); err != nil {
			logger.Warn(ctx, "Journal compression failed", "error", err)
		}
	}
	return true
}

// Watch is the periodic check: day rollover, then the EOD summary once the
// market has closed.
func (o *Orchestrator) Watch(ctx context.Context) {
	o.RollOver(ctx)
	o.summarize(ctx)
}

// summarize writes the EOD summary when due. A failed write is retried on
// the next Watch since the summary file is still missing.
func (o *Orchestrator) summarize(ctx context.Context) {
	if o.deps.Summarizer == nil {
		return
	}
	now := o.now()
	if ok, _ := o.deps.Summarizer.ShouldRunNow(now); !ok {
		return
	}
	path, err := o.deps.Summarizer.SummarizeDay(now)
	if err != nil {
		logger.ErrorWithErr(ctx, "EOD summary failed", err, "date", eod.TradingDate(now))
		return
	}
	logger.Info(ctx, "EOD summary written", "path", path)
}

// Shutdown stops the watcher and every domain's timers, writing the EOD
// summary first when it is due.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.deps.Day.ClearIntervalAndUpdate(RolloverTimer)
	o.summarize(ctx)

	for _, d := range o.deps.Domains.All() {
		switch s := d.(type) {
		case interface{ Shutdown() }:
			s.Shutdown()
		case interface{ StopTimers() }:
			s.StopTimers()
		}
	}
	logger.Info(ctx, "All domains stopped")
}
