package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/canvas"
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/overlay"
	"github.com/couchcryptid/storm-timeline-sync/internal/session"
	"github.com/couchcryptid/storm-timeline-sync/internal/timeline"
)

// Timeline is the playback control surface.
type Timeline interface {
	Snapshot() timeline.State
	SetPosition(i int)
	Play()
	Pause()
	JumpToLatest()
}

// Layers reads and changes per-product layer state.
type Layers interface {
	Layers() map[string]domain.LayerState
	SetVisible(product string, visible bool) error
	SetOpacity(product string, opacity float64) error
}

// Overlays lists what the map currently shows.
type Overlays interface {
	Overlays() []overlay.Info
}

// Images returns the image drawn for a product.
type Images interface {
	Layer(product string) (canvas.Layer, bool)
}

// Zones resolves alert zone geometry.
type Zones interface {
	Resolve(ctx context.Context, code string) (*domain.ZoneGeometry, bool)
}

// Updates reports the poller's most recent detection.
type Updates interface {
	Flashing() bool
	LastUpdate() (domain.FeedUpdate, bool)
}

// API serves the /api control routes.
type API struct {
	Timeline Timeline
	Layers   Layers
	Overlays Overlays
	Images   Images
	Zones    Zones
	Updates  Updates
	Logger   *slog.Logger
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("PUT /api/position", a.handlePosition)
	mux.HandleFunc("POST /api/play", a.handlePlay)
	mux.HandleFunc("POST /api/pause", a.handlePause)
	mux.HandleFunc("POST /api/latest", a.handleLatest)
	mux.HandleFunc("PUT /api/layers/{product}", a.handleLayer)
	mux.HandleFunc("GET /api/overlays/{product}", a.handleOverlayImage)
	mux.HandleFunc("GET /api/zones/{code}", a.handleZone)
}

type stateResponse struct {
	Timeline   timeline.State               `json:"timeline"`
	Layers     map[string]domain.LayerState `json:"layers"`
	Overlays   []overlay.Info               `json:"overlays"`
	Flashing   bool                         `json:"flashing"`
	LastUpdate *domain.FeedUpdate           `json:"last_update,omitempty"`
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{
		Timeline: a.Timeline.Snapshot(),
		Layers:   a.Layers.Layers(),
		Overlays: a.Overlays.Overlays(),
	}
	if a.Updates != nil {
		resp.Flashing = a.Updates.Flashing()
		if u, ok := a.Updates.LastUpdate(); ok {
			resp.LastUpdate = &u
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePosition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position *int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Position == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"position\": <index>}")
		return
	}
	a.Timeline.SetPosition(*body.Position)
	writeJSON(w, http.StatusOK, a.Timeline.Snapshot())
}

func (a *API) handlePlay(w http.ResponseWriter, _ *http.Request) {
	a.Timeline.Play()
	writeJSON(w, http.StatusOK, a.Timeline.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, _ *http.Request) {
	a.Timeline.Pause()
	writeJSON(w, http.StatusOK, a.Timeline.Snapshot())
}

func (a *API) handleLatest(w http.ResponseWriter, _ *http.Request) {
	a.Timeline.JumpToLatest()
	writeJSON(w, http.StatusOK, a.Timeline.Snapshot())
}

func (a *API) handleLayer(w http.ResponseWriter, r *http.Request) {
	product := r.PathValue("product")
	var body struct {
		Visible *bool    `json:"visible"`
		Opacity *float64 `json:"opacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Visible == nil && body.Opacity == nil) {
		writeError(w, http.StatusBadRequest, "body must set visible and/or opacity")
		return
	}

	var err error
	if body.Opacity != nil {
		err = a.Layers.SetOpacity(product, *body.Opacity)
	}
	if err == nil && body.Visible != nil {
		err = a.Layers.SetVisible(product, *body.Visible)
	}
	if errors.Is(err, session.ErrUnknownProduct) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		a.Logger.Error("layer update failed", "product", product, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Logger.Debug("layer updated", "product", product)
	writeJSON(w, http.StatusOK, a.Layers.Layers()[product])
}

func (a *API) handleOverlayImage(w http.ResponseWriter, r *http.Request) {
	l, ok := a.Images.Layer(r.PathValue("product"))
	if !ok {
		writeError(w, http.StatusNotFound, "no overlay for product")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(l.Image))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(l.Image)
}

type zoneResponse struct {
	Code     string            `json:"code"`
	Centroid [2]float64        `json:"centroid"`
	Geometry *geojson.Geometry `json:"geometry"`
}

func (a *API) handleZone(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	z, ok := a.Zones.Resolve(ctx, r.PathValue("code"))
	if !ok {
		writeError(w, http.StatusNotFound, "zone geometry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, zoneResponse{
		Code:     z.Code,
		Centroid: [2]float64(z.Centroid),
		Geometry: geojson.NewGeometry(z.Geometry),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
