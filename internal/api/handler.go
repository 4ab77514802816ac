package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Morgan141414/ViewPersonal/internal/compliance"
	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/engine"
	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/hub"
	"github.com/Morgan141414/ViewPersonal/internal/insight"
	"github.com/Morgan141414/ViewPersonal/internal/state"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng      *engine.Engine
	store    *state.Store
	comp     *compliance.Evaluator
	window   *insight.Window
	recent   *insight.Recent
	hub      *hub.Hub
	loader   *config.Loader
	keys     keyRing
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(eng *engine.Engine, store *state.Store, comp *compliance.Evaluator, window *insight.Window, recent *insight.Recent, h *hub.Hub, loader *config.Loader) http.Handler {
	cfg := loader.Config()
	hd := &Handler{
		eng:    eng,
		store:  store,
		comp:   comp,
		window: window,
		recent: recent,
		hub:    h,
		loader: loader,
		keys: keyRing{
			edge:   cfg.Sources.EdgeAPIKey,
			manual: cfg.Sources.ManualAPIKey,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	// Edge ingestion (AI service, positioning collector).
	hd.mux.HandleFunc("POST /v1/ai/presence/events", hd.requireEdgeKey(hd.ingestTyped(event.TypePresence)))
	hd.mux.HandleFunc("POST /v1/ai/observations", hd.requireEdgeKey(hd.ingestTyped(event.TypeAIObservation)))
	hd.mux.HandleFunc("POST /v1/position/events", hd.requireEdgeKey(hd.ingestTyped(event.TypePosition)))

	// Manual/administrative submission.
	hd.mux.HandleFunc("POST /v1/events", hd.requireManualKey(hd.ingestTyped("")))
	hd.mux.HandleFunc("POST /v1/events/batch", hd.requireManualKey(hd.ingestBatch))

	// Pull reads over current state.
	hd.mux.HandleFunc("GET /v1/presence/current", hd.presenceCurrent)
	hd.mux.HandleFunc("GET /v1/compliance/zones", hd.complianceZones)
	hd.mux.HandleFunc("GET /v1/compliance/zones/{zone_id}", hd.complianceZone)
	hd.mux.HandleFunc("GET /v1/compliance/version", hd.complianceVersion)
	hd.mux.HandleFunc("GET /v1/insights/timeline", hd.insightsTimeline)
	hd.mux.HandleFunc("GET /v1/insights/trends", hd.insightsTrends)
	hd.mux.HandleFunc("GET /v1/position/heatmap", hd.positionHeatmap)
	hd.mux.HandleFunc("GET /v1/training/snapshot", hd.trainingSnapshot)

	hd.mux.HandleFunc("GET /ws/presence", hd.wsPresence)

	hd.mux.HandleFunc("GET /healthz", hd.healthz)
	hd.mux.HandleFunc("GET /readyz", hd.readyz)
	hd.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(hd.mux)
}

// loggingMiddleware logs each request with latency at debug level.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// ingestTyped decodes a canonical event, defaults the event_type for the
// typed edge endpoints, and processes it synchronously.
func (h *Handler) ingestTyped(defaultType event.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev event.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
			return
		}
		if ev.Type == "" {
			ev.Type = defaultType
		}
		h.processOne(w, r, &ev)
	}
}

func (h *Handler) processOne(w http.ResponseWriter, r *http.Request, ev *event.Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Version == "" {
		ev.Version = event.SchemaVersion
	}
	ev.ReceivedAt = time.Now().UTC()

	res, err := h.eng.ProcessSync(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, event.ErrProcessingTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, event.ErrMalformedEvent),
		errors.Is(err, event.ErrUnknownEventType),
		errors.Is(err, event.ErrClockSkewRejected):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusTooManyRequests, err.Error())
	}
}

// POST /v1/events/batch — async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now().UTC()
	jobID := uuid.New().String()
	queued := 0
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.Version == "" {
			ev.Version = event.SchemaVersion
		}
		ev.ReceivedAt = now
		if h.eng.ProcessAsync(ev) {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(events),
		"queued":   queued,
		"rejected": len(events) - queued,
	})
}

// GET /v1/presence/current — latest-known status per subject, newest first.
func (h *Handler) presenceCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  event.SchemaVersion,
		"subjects": h.store.Current(time.Now().UTC()),
	})
}

// GET /v1/compliance/zones — last computed verdict per zone.
func (h *Handler) complianceZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": event.SchemaVersion,
		"zones":   h.comp.Snapshots(),
	})
}

// GET /v1/compliance/zones/{zone_id}
func (h *Handler) complianceZone(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.comp.Snapshot(r.PathValue("zone_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "zone not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": event.SchemaVersion,
		"zone":    snap,
	})
}

// GET /v1/compliance/version
func (h *Handler) complianceVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        event.SchemaVersion,
		"config_version": h.loader.Config().Version,
	})
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func filterQuery(r *http.Request) insight.Filter {
	return insight.Filter{
		Zone:     r.URL.Query().Get("zone"),
		SourceID: r.URL.Query().Get("source_id"),
	}
}

// GET /v1/insights/timeline?minutes=240&bucket=15&source_id=&zone=
func (h *Handler) insightsTimeline(w http.ResponseWriter, r *http.Request) {
	out := h.window.BaselineAt(
		intQuery(r, "minutes", 240),
		intQuery(r, "bucket", 15),
		filterQuery(r),
		time.Now().UTC(),
	)
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/insights/trends?days=7&source_id=&zone=
func (h *Handler) insightsTrends(w http.ResponseWriter, r *http.Request) {
	out := h.window.TrendAt(intQuery(r, "days", 7), filterQuery(r), time.Now().UTC())
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/position/heatmap?minutes=60
func (h *Handler) positionHeatmap(w http.ResponseWriter, r *http.Request) {
	minutes := intQuery(r, "minutes", 60)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window_minutes": minutes,
		"zones":          h.window.HeatmapAt(minutes, time.Now().UTC()),
	})
}

// GET /v1/training/snapshot?minutes=60&limit=100&source_id=
func (h *Handler) trainingSnapshot(w http.ResponseWriter, r *http.Request) {
	out := h.recent.Snapshot(
		intQuery(r, "minutes", 60),
		intQuery(r, "limit", 100),
		r.URL.Query().Get("source_id"),
		time.Now().UTC(),
	)
	writeJSON(w, http.StatusOK, out)
}

// GET /ws/presence — subscribe to the live presence topic.
func (h *Handler) wsPresence(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	v := h.hub.Register(conn)
	// Seed the new viewer with the current zone verdicts so it does not have
	// to wait for the next periodic broadcast.
	v.Send(hub.NewMessage(hub.TypeComplianceZones, h.comp.Snapshots()))
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if event queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
