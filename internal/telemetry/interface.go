package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/pvdash/internal/plant"
)

// Channel names one of the two independently timed data feeds.
type Channel string

const (
	ChannelCurrent Channel = "current"
	ChannelLog     Channel = "log"
)

// Source abstracts the remote data service. Calls are independent and may
// complete in any order; failures are reported per call as *FetchError.
type Source interface {
	FetchCurrent(ctx context.Context, key plant.Key) (Reading, error)
	FetchLog(ctx context.Context, key plant.Key) ([]LogEntry, error)
}

// Catalog lists the plants known to the remote service.
type Catalog interface {
	ListPlants(ctx context.Context) ([]plant.Plant, error)
}

// Reading is an instantaneous power measurement for one plant.
type Reading struct {
	PlantKey  plant.Key
	Timestamp time.Time
	PowerAc   float64
}

// LogEntry is one historical sample for one plant.
type LogEntry struct {
	PlantKey    plant.Key
	Timestamp   time.Time
	PowerAc     float64
	EnergyToday float64
}

// LogBatch is the result of one log fetch. The key is carried on the batch
// so that an empty batch can still be correlated.
type LogBatch struct {
	PlantKey plant.Key
	Entries  []LogEntry
}
