package plant_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/plant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInitializesDerivedState(t *testing.T) {
	reg := plant.NewRegistry()

	epoch, err := reg.Add(plant.Plant{
		Key:     "X",
		Name:    "Roof",
		Derived: plant.Derived{Gauge: 99, PowerSeries: []plant.Point{{Value: 1}}},
	})
	require.NoError(t, err)
	assert.NotZero(t, epoch)

	p, ok := reg.Find("X")
	require.True(t, ok)
	assert.Equal(t, "Roof", p.Name)
	assert.Equal(t, epoch, p.Epoch)
	assert.Zero(t, p.Derived.Gauge)
	assert.Empty(t, p.Derived.PowerSeries)
	assert.Empty(t, p.Derived.EnergySeries)
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{Key: "X"})
	require.NoError(t, err)

	_, err = reg.Add(plant.Plant{Key: "X", Name: "other"})
	require.Error(t, err)

	var dup *plant.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, plant.Key("X"), dup.Key)
	assert.Equal(t, plant.ErrDuplicateKey, dup.Code())
	assert.Equal(t, 1, reg.Len())
}

func TestAddRejectsEmptyKey(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, plant.ErrEmptyKey))
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)

	assert.True(t, reg.Remove("A"))
	assert.False(t, reg.Remove("A"))
	assert.False(t, reg.Remove("never-added"))

	_, ok := reg.Find("A")
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	reg := plant.NewRegistry()
	for _, k := range []plant.Key{"C", "A", "B"} {
		_, err := reg.Add(plant.Plant{Key: k})
		require.NoError(t, err)
	}
	reg.Remove("A")
	_, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)

	keys := make([]plant.Key, 0, 3)
	for _, p := range reg.Snapshot() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []plant.Key{"C", "B", "A"}, keys)
	assert.Equal(t, keys, reg.Keys())
}

func TestSnapshotIsIsolatedFromLaterChanges(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)
	reg.Update("A", 0, func(d *plant.Derived) {
		d.PowerSeries = []plant.Point{{Value: 1}}
	})

	snap := reg.Snapshot()

	_, err = reg.Add(plant.Plant{Key: "B"})
	require.NoError(t, err)
	reg.Update("A", 0, func(d *plant.Derived) {
		d.Gauge = 10
		d.PowerSeries[0].Value = 2
	})
	reg.Remove("A")

	require.Len(t, snap, 1)
	assert.Equal(t, plant.Key("A"), snap[0].Key)
	assert.Zero(t, snap[0].Derived.Gauge)
	assert.Equal(t, 1.0, snap[0].Derived.PowerSeries[0].Value)
}

func TestFindReturnsCopy(t *testing.T) {
	reg := plant.NewRegistry()
	_, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)
	reg.Update("A", 0, func(d *plant.Derived) {
		d.EnergySeries = []plant.Point{{Value: 5}}
	})

	p, ok := reg.Find("A")
	require.True(t, ok)
	p.Derived.EnergySeries[0].Value = 100

	again, _ := reg.Find("A")
	assert.Equal(t, 5.0, again.Derived.EnergySeries[0].Value)
}

func TestUpdateHonorsEpoch(t *testing.T) {
	reg := plant.NewRegistry()
	first, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)

	reg.Remove("A")
	second, err := reg.Add(plant.Plant{Key: "A"})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	ran := reg.Update("A", first, func(d *plant.Derived) { d.Gauge = 1 })
	assert.False(t, ran, "stale epoch must not mutate the re-added plant")

	ran = reg.Update("A", second, func(d *plant.Derived) { d.Gauge = 2 })
	assert.True(t, ran)

	ran = reg.Update("missing", 0, func(d *plant.Derived) { d.Gauge = 3 })
	assert.False(t, ran)

	p, _ := reg.Find("A")
	assert.Equal(t, 2.0, p.Derived.Gauge)
}

func TestConcurrentAddRemoveSnapshot(t *testing.T) {
	reg := plant.NewRegistry()
	keys := []plant.Key{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k plant.Key) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = reg.Add(plant.Plant{Key: k})
				reg.Update(k, 0, func(d *plant.Derived) { d.Gauge++ })
				_ = reg.Snapshot()
				reg.Remove(k)
			}
		}(k)
	}
	wg.Wait()

	assert.Zero(t, reg.Len())
}

func TestGaugeStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, plant.Derived{}.GaugeStale(now, time.Minute))
	assert.True(t, plant.Derived{GaugeUpdatedAt: now.Add(-2 * time.Minute)}.GaugeStale(now, time.Minute))
	assert.False(t, plant.Derived{GaugeUpdatedAt: now.Add(-30 * time.Second)}.GaugeStale(now, time.Minute))
}
