package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/plant"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createPlantRequest struct {
	Key       plant.Key `json:"plantKey"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// plantView is a plant as served to dashboards. GaugeStale is computed at
// request time from the gauge timestamp.
type plantView struct {
	plant.Plant
	GaugeStale bool `json:"gaugeStale"`
}

func (s *Server) view(p plant.Plant, now time.Time) plantView {
	return plantView{Plant: p, GaugeStale: p.Derived.GaugeStale(now, s.deps.StaleAfter)}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		Plants      int    `json:"plants"`
		Subscribers int    `json:"subscribers"`
	}{
		Status:      "ok",
		Plants:      s.deps.Registry.Len(),
		Subscribers: s.deps.Hub.Subscribers(),
	})
}

func (s *Server) listPlants(w http.ResponseWriter, _ *http.Request) {
	plants := s.deps.Registry.Snapshot()
	now := time.Now()
	views := make([]plantView, 0, len(plants))
	for _, p := range plants {
		views = append(views, s.view(p, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getPlant(w http.ResponseWriter, r *http.Request) {
	key, err := plantKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	p, ok := s.deps.Registry.Find(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New().WithData(ErrPlantNotFound, key))
		return
	}
	writeJSON(w, http.StatusOK, s.view(p, time.Now()))
}

func (s *Server) createPlant(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	var req createPlantRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errFactory.Wrap(ErrDecodeRequest, err))
		return
	}

	_, err := s.deps.Registry.Add(plant.Plant{
		Key:       req.Key,
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})

	var dup *plant.DuplicateKeyError
	switch {
	case errors.As(err, &dup):
		s.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.deps.Log.Info().Str("plant", req.Key.String()).Msg("Plant added")

	p, _ := s.deps.Registry.Find(req.Key)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) deletePlant(w http.ResponseWriter, r *http.Request) {
	key, err := plantKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.deps.Registry.Remove(key) {
		s.deps.Log.Info().Str("plant", key.String()).Msg("Plant removed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func plantKey(r *http.Request) (plant.Key, error) {
	raw, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil || raw == "" {
		return "", errors.New().WithData(ErrInvalidKey, mux.Vars(r)["key"])
	}
	return plant.Key(raw), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}

	var coded interface{ Code() errors.ErrorCode }
	if errors.As(err, &coded) {
		resp.Code = string(coded.Code())
	}
	if status >= http.StatusInternalServerError {
		s.deps.Log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, resp)
}
