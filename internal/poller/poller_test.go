package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/metrics"
	"codeberg.org/mutker/pvdash/internal/notify"
	"codeberg.org/mutker/pvdash/internal/plant"
	"codeberg.org/mutker/pvdash/internal/poller"
	"codeberg.org/mutker/pvdash/internal/telemetry"
	"codeberg.org/mutker/pvdash/internal/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type reply struct {
	reading telemetry.Reading
	entries []telemetry.LogEntry
	err     error
}

type call struct {
	key     plant.Key
	channel telemetry.Channel
	reply   chan reply
}

// gatedSource hands every fetch to the test and blocks until the test replies.
type gatedSource struct {
	calls chan call
}

func newGatedSource() *gatedSource {
	return &gatedSource{calls: make(chan call, 64)}
}

func (s *gatedSource) do(ctx context.Context, key plant.Key, ch telemetry.Channel) (reply, error) {
	c := call{key: key, channel: ch, reply: make(chan reply, 1)}
	s.calls <- c
	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, &telemetry.FetchError{Key: key, Channel: ch, Cause: ctx.Err()}
	}
}

func (s *gatedSource) FetchCurrent(ctx context.Context, key plant.Key) (telemetry.Reading, error) {
	r, err := s.do(ctx, key, telemetry.ChannelCurrent)
	return r.reading, err
}

func (s *gatedSource) FetchLog(ctx context.Context, key plant.Key) ([]telemetry.LogEntry, error) {
	r, err := s.do(ctx, key, telemetry.ChannelLog)
	return r.entries, err
}

// next collects n pending calls keyed by plant.
func (s *gatedSource) next(t *testing.T, n int) map[plant.Key]call {
	t.Helper()

	out := make(map[plant.Key]call, n)
	for i := 0; i < n; i++ {
		select {
		case c := <-s.calls:
			out[c.key] = c
		case <-time.After(waitTimeout):
			t.Fatalf("expected %d fetches, got %d", n, i)
		}
	}
	return out
}

type memoryHistory struct {
	mu        sync.Mutex
	snapshots []metrics.CycleSnapshot
}

func (m *memoryHistory) Record(_ context.Context, s *metrics.CycleSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (*memoryHistory) Close() error { return nil }

func (m *memoryHistory) all() []metrics.CycleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]metrics.CycleSnapshot(nil), m.snapshots...)
}

type fixture struct {
	reg *plant.Registry
	src *gatedSource
	hub *notify.Hub
	p   *poller.Poller
}

func newFixture(t *testing.T, cfg poller.Config, keys ...plant.Key) *fixture {
	t.Helper()

	reg := plant.NewRegistry()
	for _, k := range keys {
		_, err := reg.Add(plant.Plant{Key: k})
		require.NoError(t, err)
	}

	src := newGatedSource()
	hub := notify.NewHub()
	log := logger.Component("test")
	upd := updater.New(reg, hub, log)

	p, err := poller.New(cfg, reg, src, upd, log)
	require.NoError(t, err)

	return &fixture{reg: reg, src: src, hub: hub, p: p}
}

func wait(t *testing.T, tick *poller.Tick) poller.TickSummary {
	t.Helper()
	select {
	case <-tick.Done():
	case <-time.After(waitTimeout):
		t.Fatal("tick did not resolve")
	}
	return tick.Wait()
}

func gauge(t *testing.T, reg *plant.Registry, key plant.Key) float64 {
	t.Helper()
	p, ok := reg.Find(key)
	require.True(t, ok)
	return p.Derived.Gauge
}

func TestTickReturnsBeforeFetchesResolve(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A", "B")

	tick := f.p.FastTick(context.Background())
	assert.Equal(t, 2, tick.Plants)
	assert.NotEmpty(t, tick.ID)

	calls := f.src.next(t, 2)
	select {
	case <-tick.Done():
		t.Fatal("tick resolved before its fetches")
	default:
	}

	calls["A"].reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 1}}
	calls["B"].reply <- reply{reading: telemetry.Reading{PlantKey: "B", PowerAc: 2}}

	summary := wait(t, tick)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.NoError(t, summary.FirstErr)
	assert.Equal(t, 1.0, gauge(t, f.reg, "A"))
	assert.Equal(t, 2.0, gauge(t, f.reg, "B"))
}

func TestFailureIsolatedToItsPlant(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A", "B", "C")

	tick := f.p.FastTick(context.Background())
	calls := f.src.next(t, 3)

	calls["A"].reply <- reply{err: &telemetry.FetchError{Key: "A", Channel: telemetry.ChannelCurrent, Cause: context.DeadlineExceeded}}
	calls["C"].reply <- reply{reading: telemetry.Reading{PlantKey: "C", PowerAc: 30}}
	calls["B"].reply <- reply{reading: telemetry.Reading{PlantKey: "B", PowerAc: 20}}

	summary := wait(t, tick)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	var fetchErr *telemetry.FetchError
	require.True(t, errors.As(summary.FirstErr, &fetchErr))
	assert.Equal(t, plant.Key("A"), fetchErr.Key)

	assert.Zero(t, gauge(t, f.reg, "A"))
	assert.Equal(t, 20.0, gauge(t, f.reg, "B"))
	assert.Equal(t, 30.0, gauge(t, f.reg, "C"))
}

func TestNextTickDoesNotWaitForPrevious(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A")

	first := f.p.FastTick(context.Background())
	older := f.src.next(t, 1)["A"]

	second := f.p.FastTick(context.Background())
	newer := f.src.next(t, 1)["A"]

	// Out of order resolution: the later applied value stays.
	newer.reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 200}}
	wait(t, second)
	older.reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 100}}
	wait(t, first)

	assert.Equal(t, 100.0, gauge(t, f.reg, "A"))
}

func TestSlowTickReplacesSeries(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A")
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tick := f.p.SlowTick(context.Background())
	c := f.src.next(t, 1)["A"]
	assert.Equal(t, telemetry.ChannelLog, c.channel)

	c.reply <- reply{entries: []telemetry.LogEntry{{PlantKey: "A", Timestamp: at, PowerAc: 5, EnergyToday: 50}}}
	summary := wait(t, tick)
	assert.Equal(t, 1, summary.Succeeded)

	p, _ := f.reg.Find("A")
	assert.Equal(t, []plant.Point{{Time: at, Value: 5}}, p.Derived.PowerSeries)
	assert.Equal(t, []plant.Point{{Time: at, Value: 50}}, p.Derived.EnergySeries)
}

func TestReadingWithoutKeyIsCorrelatedToIssuedPlant(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A")

	tick := f.p.FastTick(context.Background())
	f.src.next(t, 1)["A"].reply <- reply{reading: telemetry.Reading{PowerAc: 7}}
	wait(t, tick)

	assert.Equal(t, 7.0, gauge(t, f.reg, "A"))
}

func TestEndToEndLifecycle(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "X")
	events, cancel := f.hub.Subscribe(8)
	defer cancel()

	ctx := context.Background()

	fast := f.p.FastTick(ctx)
	f.src.next(t, 1)["X"].reply <- reply{reading: telemetry.Reading{PlantKey: "X", PowerAc: 2450}}
	wait(t, fast)
	assert.Equal(t, 2450.0, gauge(t, f.reg, "X"))

	at0800 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	at0805 := at0800.Add(5 * time.Minute)
	slow := f.p.SlowTick(ctx)
	f.src.next(t, 1)["X"].reply <- reply{entries: []telemetry.LogEntry{
		{PlantKey: "X", Timestamp: at0800, PowerAc: 2450, EnergyToday: 200},
		{PlantKey: "X", Timestamp: at0805, PowerAc: 2600, EnergyToday: 410},
	}}
	wait(t, slow)

	p, ok := f.reg.Find("X")
	require.True(t, ok)
	assert.Equal(t, []plant.Point{{Time: at0800, Value: 2450}, {Time: at0805, Value: 2600}}, p.Derived.PowerSeries)
	assert.Equal(t, []plant.Point{{Time: at0800, Value: 200}, {Time: at0805, Value: 410}}, p.Derived.EnergySeries)

	inflight := f.p.FastTick(ctx)
	pending := f.src.next(t, 1)["X"]
	require.True(t, f.reg.Remove("X"))
	pending.reply <- reply{reading: telemetry.Reading{PlantKey: "X", PowerAc: 9999}}

	summary := wait(t, inflight)
	assert.Equal(t, 1, summary.Discarded)
	assert.Zero(t, summary.Failed)
	assert.NoError(t, summary.FirstErr)

	_, ok = f.reg.Find("X")
	assert.False(t, ok)
	assert.Zero(t, f.reg.Len())

	assert.Len(t, events, 2)
}

func TestFetchIssuedBeforeReaddDoesNotTouchNewPlant(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A")

	tick := f.p.FastTick(context.Background())
	pending := f.src.next(t, 1)["A"]

	f.reg.Remove("A")
	_, err := f.reg.Add(plant.Plant{Key: "A", Name: "replacement"})
	require.NoError(t, err)

	pending.reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 5}}
	summary := wait(t, tick)

	assert.Equal(t, 1, summary.Discarded)
	assert.Zero(t, gauge(t, f.reg, "A"))
}

func TestFetchTimeout(t *testing.T) {
	cfg := poller.DefaultConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, "A")

	tick := f.p.FastTick(context.Background())
	f.src.next(t, 1)

	summary := wait(t, tick)
	assert.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.FirstErr, context.DeadlineExceeded)
}

func TestEmptyRegistryTickResolvesImmediately(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig())

	summary := wait(t, f.p.SlowTick(context.Background()))
	assert.Zero(t, summary.Plants)
	assert.Equal(t, telemetry.ChannelLog, summary.Channel)
}

func TestResolvedTickIsRecorded(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)

	src := newGatedSource()
	history := &memoryHistory{}
	log := logger.Component("test")
	p, err := poller.New(poller.DefaultConfig(), reg, src, updater.New(reg, nil, log), log, poller.WithHistory(history))
	require.NoError(t, err)

	tick := p.FastTick(context.Background())
	src.next(t, 1)["A"].reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 1}}
	wait(t, tick)

	snapshots := history.all()
	require.Len(t, snapshots, 1)
	assert.Equal(t, tick.ID, snapshots[0].TickID)
	assert.Equal(t, "current", snapshots[0].Channel)
	assert.Equal(t, 1, snapshots[0].Plants)
	assert.Equal(t, 1, snapshots[0].Succeeded)
}

func TestRunTicksImmediatelyAndStopsOnCancel(t *testing.T) {
	cfg := poller.Config{FastInterval: 20 * time.Millisecond, SlowInterval: time.Hour}
	f := newFixture(t, cfg, "A")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	seen := map[telemetry.Channel]int{}
	deadline := time.After(waitTimeout)
	for seen[telemetry.ChannelCurrent] < 2 || seen[telemetry.ChannelLog] < 1 {
		select {
		case c := <-f.src.calls:
			seen[c.channel]++
			c.reply <- reply{reading: telemetry.Reading{PlantKey: "A", PowerAc: 1}}
		case <-deadline:
			t.Fatalf("unexpected fetches: %v", seen)
		}
	}
	assert.Equal(t, 1, seen[telemetry.ChannelLog])

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTickAfterRunReturnsIssuesNoFetches(t *testing.T) {
	f := newFixture(t, poller.DefaultConfig(), "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.p.Run(ctx))

	// Run still fires its initial ticks; their fetches end with the context.
	for len(f.src.calls) > 0 {
		<-f.src.calls
	}

	summary := wait(t, f.p.FastTick(context.Background()))
	assert.Zero(t, summary.Plants)
	assert.Zero(t, summary.Succeeded+summary.Failed+summary.Discarded)
	assert.Empty(t, f.src.calls)
}

func TestNewValidatesConfig(t *testing.T) {
	reg := plant.NewRegistry()
	log := logger.Component("test")
	upd := updater.New(reg, nil, log)

	_, err := poller.New(poller.Config{SlowInterval: time.Second}, reg, newGatedSource(), upd, log)
	assert.True(t, errors.HasCode(err, poller.ErrInvalidConfig))

	_, err = poller.New(poller.DefaultConfig(), reg, nil, upd, log)
	assert.True(t, errors.HasCode(err, poller.ErrMissingDependency))
}
