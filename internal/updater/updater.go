// Package updater correlates fetch results back to their plants and rewrites
// the derived chart state.
package updater

import (
	"time"

	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/metrics"
	"codeberg.org/mutker/pvdash/internal/notify"
	"codeberg.org/mutker/pvdash/internal/plant"
	"codeberg.org/mutker/pvdash/internal/telemetry"
)

// Updater applies readings and log batches to the registry. Results for
// plants that are no longer registered are discarded silently.
type Updater struct {
	reg      *plant.Registry
	pub      notify.Publisher
	counters *metrics.Counters
	log      logger.Logger
	nowFn    func() time.Time
}

type Option func(*Updater)

// WithCounters reports discarded results to c.
func WithCounters(c *metrics.Counters) Option {
	return func(u *Updater) {
		u.counters = c
	}
}

// WithClock overrides the clock used for the *UpdatedAt bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		u.nowFn = now
	}
}

// New returns an Updater writing to reg. pub may be nil.
func New(reg *plant.Registry, pub notify.Publisher, log logger.Logger, opts ...Option) *Updater {
	u := &Updater{
		reg:   reg,
		pub:   pub,
		log:   log,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ApplyReading overwrites the gauge of r.PlantKey with r.PowerAc. It reports
// false when the plant is not registered.
func (u *Updater) ApplyReading(r telemetry.Reading) bool {
	return u.ApplyIssuedReading(0, r)
}

// ApplyIssuedReading is ApplyReading restricted to the plant incarnation the
// fetch was issued for. Epoch zero matches any incarnation.
func (u *Updater) ApplyIssuedReading(epoch uint64, r telemetry.Reading) bool {
	now := u.nowFn()
	ok := u.reg.Update(r.PlantKey, epoch, func(d *plant.Derived) {
		d.Gauge = r.PowerAc
		d.GaugeUpdatedAt = now
	})
	if !ok {
		u.discard(r.PlantKey, telemetry.ChannelCurrent)
		return false
	}

	u.publish(r.PlantKey, notify.KindGauge, now)
	return true
}

// ApplyLog replaces both series of b.PlantKey with a projection of the batch
// entries in the order given. It reports false when the plant is not
// registered.
func (u *Updater) ApplyLog(b telemetry.LogBatch) bool {
	return u.ApplyIssuedLog(0, b)
}

// ApplyIssuedLog is ApplyLog restricted to the plant incarnation the fetch
// was issued for. Epoch zero matches any incarnation.
func (u *Updater) ApplyIssuedLog(epoch uint64, b telemetry.LogBatch) bool {
	power, energy := u.project(b)

	now := u.nowFn()
	ok := u.reg.Update(b.PlantKey, epoch, func(d *plant.Derived) {
		d.PowerSeries = power
		d.EnergySeries = energy
		d.SeriesUpdatedAt = now
	})
	if !ok {
		u.discard(b.PlantKey, telemetry.ChannelLog)
		return false
	}

	u.publish(b.PlantKey, notify.KindSeries, now)
	return true
}

func (u *Updater) project(b telemetry.LogBatch) (power, energy []plant.Point) {
	power = make([]plant.Point, 0, len(b.Entries))
	energy = make([]plant.Point, 0, len(b.Entries))

	for _, e := range b.Entries {
		if e.PlantKey != "" && e.PlantKey != b.PlantKey {
			u.log.Warn().
				Str("plant", b.PlantKey.String()).
				Str("entry_plant", e.PlantKey.String()).
				Time("entry_time", e.Timestamp).
				Msg("Skipping log entry of another plant")
			continue
		}
		power = append(power, plant.Point{Time: e.Timestamp, Value: e.PowerAc})
		energy = append(energy, plant.Point{Time: e.Timestamp, Value: e.EnergyToday})
	}

	return power, energy
}

func (u *Updater) discard(key plant.Key, ch telemetry.Channel) {
	u.counters.Discarded(string(ch))
	u.log.Debug().
		Str("plant", key.String()).
		Str("channel", string(ch)).
		Msg("Discarding result for unregistered plant")
}

func (u *Updater) publish(key plant.Key, kind notify.Kind, at time.Time) {
	if u.pub == nil {
		return
	}
	u.pub.Publish(notify.Event{Key: key, Kind: kind, At: at})
}
