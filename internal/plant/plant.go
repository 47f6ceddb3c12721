package plant

import "time"

// Key identifies a plant. It is the correlation key used throughout the engine.
type Key string

func (k Key) String() string {
	return string(k)
}

// Point is one sample of a chart series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Derived holds the chart-ready state of a plant. It is written only by the
// updater through Registry.Update.
type Derived struct {
	Gauge           float64   `json:"gauge"`
	GaugeUpdatedAt  time.Time `json:"gaugeUpdatedAt"`
	PowerSeries     []Point   `json:"powerSeries"`
	EnergySeries    []Point   `json:"energySeries"`
	SeriesUpdatedAt time.Time `json:"seriesUpdatedAt"`
}

// Clone returns a deep copy.
func (d Derived) Clone() Derived {
	out := d
	out.PowerSeries = clonePoints(d.PowerSeries)
	out.EnergySeries = clonePoints(d.EnergySeries)
	return out
}

// GaugeStale reports whether the gauge has not been refreshed within maxAge of now.
func (d Derived) GaugeStale(now time.Time, maxAge time.Duration) bool {
	return d.GaugeUpdatedAt.IsZero() || d.GaugeUpdatedAt.Before(now.Add(-maxAge))
}

func clonePoints(in []Point) []Point {
	if in == nil {
		return nil
	}
	out := make([]Point, len(in))
	copy(out, in)
	return out
}

// Plant is a monitored photovoltaic installation.
type Plant struct {
	Key       Key     `json:"plantKey"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Derived   Derived `json:"derived"`

	// Epoch is assigned by the registry on Add and changes every time a key
	// is re-added. Zero means "not registered".
	Epoch uint64 `json:"-"`
}

func (p Plant) clone() Plant {
	out := p
	out.Derived = p.Derived.Clone()
	return out
}
