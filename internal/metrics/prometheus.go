package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pvdash"

// Fetch results as used in the result label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Counters are the live Prometheus instruments of the engine.
type Counters struct {
	fetches      *prometheus.CounterVec
	discarded    *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	plants       prometheus.Gauge
}

// NewCounters creates the instruments and registers them with reg.
func NewCounters(reg prometheus.Registerer) (*Counters, error) {
	c := &Counters{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Fetches issued against the telemetry source, by channel and result.",
		}, []string{"channel", "result"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_discarded_total",
			Help:      "Fetch results dropped because their plant was no longer registered.",
		}, []string{"channel"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll ticks issued, by channel.",
		}, []string{"channel"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_resolve_seconds",
			Help:      "Time from tick start until every fetch of the tick resolved.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"channel"}),
		plants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plants",
			Help:      "Plants in the most recent tick snapshot.",
		}),
	}

	for _, col := range []prometheus.Collector{c.fetches, c.discarded, c.ticks, c.tickDuration, c.plants} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Counters) FetchDone(channel string, ok bool) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	c.fetches.WithLabelValues(channel, result).Inc()
}

func (c *Counters) Discarded(channel string) {
	if c == nil {
		return
	}
	c.discarded.WithLabelValues(channel).Inc()
}

func (c *Counters) TickIssued(channel string, plants int) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(channel).Inc()
	c.plants.Set(float64(plants))
}

func (c *Counters) TickResolved(channel string, d time.Duration) {
	if c == nil {
		return
	}
	c.tickDuration.WithLabelValues(channel).Observe(d.Seconds())
}
