package telemetry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pvdash/internal/plant"
)

// pvData is the current-reading document served at /plant/{key}/pvdata.
// Fields the dashboard does not chart are ignored.
type pvData struct {
	LatestUpdate *time.Time `json:"LatestUpdate"`
	PowerAc      float64    `json:"PowerAc"`
	EnergyToday  float64    `json:"EnergyToday"`
	EnergyTotal  float64    `json:"EnergyTotal"`
	State        string     `json:"State"`
}

// logRecord is one element of the array served at /plant/{key}/logpvdata.
type logRecord struct {
	LogTime time.Time `json:"LogTime"`
	PvData  pvData    `json:"PvData"`
}

type plantRecord struct {
	PlantKey  string     `json:"PlantKey"`
	Name      string     `json:"Name"`
	Latitude  coordinate `json:"Latitude"`
	Longitude coordinate `json:"Longitude"`
}

// coordinate accepts both JSON numbers and numeric strings; the service
// stores coordinates as strings.
type coordinate float64

func (c *coordinate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*c = coordinate(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = coordinate(v)
	return nil
}

func (r plantRecord) toPlant() plant.Plant {
	return plant.Plant{
		Key:       plant.Key(r.PlantKey),
		Name:      r.Name,
		Latitude:  float64(r.Latitude),
		Longitude: float64(r.Longitude),
	}
}

func (pv pvData) toReading(key plant.Key, received time.Time) Reading {
	ts := received
	if pv.LatestUpdate != nil && !pv.LatestUpdate.IsZero() {
		ts = *pv.LatestUpdate
	}
	return Reading{
		PlantKey:  key,
		Timestamp: ts,
		PowerAc:   pv.PowerAc,
	}
}

func (r logRecord) toEntry(key plant.Key) LogEntry {
	return LogEntry{
		PlantKey:    key,
		Timestamp:   r.LogTime,
		PowerAc:     r.PvData.PowerAc,
		EnergyToday: r.PvData.EnergyToday,
	}
}
