package metrics

import (
	"context"
	"time"
)

// Collector records one summary per resolved poll tick.
type Collector interface {
	Record(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// Repository defines the interface for cycle history storage
type Repository interface {
	Record(snapshot *CycleSnapshot) error
	Close() error
}

// CycleSnapshot summarizes one tick of a poll schedule once all of its
// fetches have resolved.
type CycleSnapshot struct {
	TickID    string
	Channel   string
	StartedAt time.Time
	Duration  time.Duration
	Plants    int
	Succeeded int
	Failed    int
	Discarded int
}
