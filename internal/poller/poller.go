// Package poller drives the two fetch schedules. Every tick fans out one
// fetch per registered plant and returns without waiting for them.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/metrics"
	"codeberg.org/mutker/pvdash/internal/plant"
	"codeberg.org/mutker/pvdash/internal/telemetry"
	"codeberg.org/mutker/pvdash/internal/updater"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Poller struct {
	cfg      Config
	reg      *plant.Registry
	src      telemetry.Source
	upd      *updater.Updater
	counters *metrics.Counters
	history  metrics.Collector
	log      logger.Logger

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

type Option func(*Poller)

// WithCounters reports fetch outcomes and tick timings to c.
func WithCounters(c *metrics.Counters) Option {
	return func(p *Poller) {
		p.counters = c
	}
}

// WithHistory records a CycleSnapshot for every resolved tick.
func WithHistory(c metrics.Collector) Option {
	return func(p *Poller) {
		p.history = c
	}
}

func New(
	cfg Config, reg *plant.Registry, src telemetry.Source, upd *updater.Updater, log logger.Logger, opts ...Option,
) (*Poller, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || reg == nil || upd == nil {
		return nil, errFactory.New(ErrMissingDependency)
	}

	p := &Poller{
		cfg: cfg,
		reg: reg,
		src: src,
		upd: upd,
		log: log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run fires one tick on each channel immediately and then one per interval,
// measured from tick start, until ctx is cancelled. It returns once every
// tick issued so far has resolved. Ticks requested after that, from any
// goroutine, issue no fetches. A Poller is not restarted.
func (p *Poller) Run(ctx context.Context) error {
	fast := time.NewTicker(p.cfg.FastInterval)
	defer fast.Stop()
	slow := time.NewTicker(p.cfg.SlowInterval)
	defer slow.Stop()

	p.log.Info().
		Dur("fast_interval", p.cfg.FastInterval).
		Dur("slow_interval", p.cfg.SlowInterval).
		Msg("Poller started")

	p.FastTick(ctx)
	p.SlowTick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.stopped = true
			p.mu.Unlock()
			p.inflight.Wait()
			p.log.Info().Msg("Poller stopped")
			return nil
		case <-fast.C:
			p.FastTick(ctx)
		case <-slow.C:
			p.SlowTick(ctx)
		}
	}
}

// FastTick issues one current reading fetch per registered plant.
func (p *Poller) FastTick(ctx context.Context) *Tick {
	return p.tick(ctx, telemetry.ChannelCurrent)
}

// SlowTick issues one log fetch per registered plant.
func (p *Poller) SlowTick(ctx context.Context) *Tick {
	return p.tick(ctx, telemetry.ChannelLog)
}

func (p *Poller) tick(ctx context.Context, ch telemetry.Channel) *Tick {
	t := &Tick{
		ID:        uuid.NewString(),
		Channel:   ch,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	log := p.log.With("tick", t.ID).With("channel", string(ch))

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		log.Debug().Msg("Poller stopped, tick skipped")
		t.resolve(nil)
		close(t.done)
		return t
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	plants := p.reg.Snapshot()
	t.Plants = len(plants)

	p.counters.TickIssued(string(ch), len(plants))
	log.Debug().Int("plants", len(plants)).Msg("Tick issued")

	var g errgroup.Group
	for _, pl := range plants {
		key, epoch := pl.Key, pl.Epoch
		g.Go(func() error {
			return p.fetch(ctx, t, key, epoch, log)
		})
	}

	go func() {
		defer p.inflight.Done()
		t.resolve(g.Wait())
		p.finish(ctx, t, log)
		close(t.done)
	}()

	return t
}

func (p *Poller) fetch(ctx context.Context, t *Tick, key plant.Key, epoch uint64, log logger.Logger) error {
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	var (
		applied bool
		err     error
	)
	switch t.Channel {
	case telemetry.ChannelCurrent:
		var r telemetry.Reading
		r, err = p.src.FetchCurrent(ctx, key)
		if err == nil {
			applied = p.applyReading(key, epoch, r, log)
		}
	case telemetry.ChannelLog:
		var entries []telemetry.LogEntry
		entries, err = p.src.FetchLog(ctx, key)
		if err == nil {
			applied = p.upd.ApplyIssuedLog(epoch, telemetry.LogBatch{PlantKey: key, Entries: entries})
		}
	}

	p.counters.FetchDone(string(t.Channel), err == nil)

	switch {
	case err != nil:
		t.failed.Add(1)
		ev := log.Warn()
		if ctx.Err() != nil {
			ev = log.Debug()
		}
		ev.Err(err).Str("plant", key.String()).Msg("Fetch failed")
		return err
	case applied:
		t.succeeded.Add(1)
	default:
		t.discarded.Add(1)
	}
	return nil
}

func (p *Poller) applyReading(key plant.Key, epoch uint64, r telemetry.Reading, log logger.Logger) bool {
	if r.PlantKey == "" {
		r.PlantKey = key
	}
	if r.PlantKey != key {
		log.Warn().
			Str("plant", key.String()).
			Str("reading_plant", r.PlantKey.String()).
			Msg("Reading carries a different plant key")
		return p.upd.ApplyReading(r)
	}
	return p.upd.ApplyIssuedReading(epoch, r)
}

func (p *Poller) finish(ctx context.Context, t *Tick, log logger.Logger) {
	s := t.summary
	p.counters.TickResolved(string(t.Channel), s.Duration)

	ev := log.Debug()
	if s.Failed > 0 {
		ev = log.Info()
	}
	ev.Int("plants", s.Plants).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("discarded", s.Discarded).
		Dur("duration", s.Duration).
		Msg("Tick resolved")

	if p.history == nil {
		return
	}
	if err := p.history.Record(context.WithoutCancel(ctx), &metrics.CycleSnapshot{
		TickID:    t.ID,
		Channel:   string(t.Channel),
		StartedAt: t.StartedAt,
		Duration:  s.Duration,
		Plants:    s.Plants,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Discarded: s.Discarded,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to record cycle")
	}
}

// Tick is one firing of a schedule. Its fetches resolve independently; Wait
// only observes them.
type Tick struct {
	ID        string
	Channel   telemetry.Channel
	StartedAt time.Time
	Plants    int

	succeeded atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64

	done    chan struct{}
	summary TickSummary
}

// TickSummary reports how the fetches of one tick resolved. Discarded counts
// successful fetches whose plant was gone when the result arrived.
type TickSummary struct {
	ID        string
	Channel   telemetry.Channel
	Plants    int
	Succeeded int
	Failed    int
	Discarded int
	Duration  time.Duration
	// FirstErr is the first fetch failure of the tick, if any.
	FirstErr error
}

func (t *Tick) resolve(firstErr error) {
	t.summary = TickSummary{
		ID:        t.ID,
		Channel:   t.Channel,
		Plants:    t.Plants,
		Succeeded: int(t.succeeded.Load()),
		Failed:    int(t.failed.Load()),
		Discarded: int(t.discarded.Load()),
		Duration:  time.Since(t.StartedAt),
		FirstErr:  firstErr,
	}
}

// Wait blocks until every fetch of the tick has resolved.
func (t *Tick) Wait() TickSummary {
	<-t.done
	return t.summary
}

// Done is closed once every fetch of the tick has resolved.
func (t *Tick) Done() <-chan struct{} {
	return t.done
}
