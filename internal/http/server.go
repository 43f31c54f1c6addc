package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/patchgrid/bitwigd/internal/batch"
	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/gateway"
	"github.com/patchgrid/bitwigd/internal/knowledge"
)

// Catalog is the read side of the knowledge store the API serves.
type Catalog interface {
	ResolveRef(ctx context.Context, ref string) (knowledge.Device, error)
	Get(ctx context.Context, id uuid.UUID) (knowledge.Device, error)
	Search(ctx context.Context, query, category string) ([]knowledge.Device, error)
}

// Reloader schedules a catalog reload without blocking the request.
type Reloader interface {
	TriggerReload()
}

type API struct {
	gateway *gateway.Service
	catalog Catalog
	reload  Reloader
	logger  *slog.Logger
}

func New(svc *gateway.Service, catalog Catalog, reload Reloader, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{gateway: svc, catalog: catalog, reload: reload, logger: logger.With("component", "http")}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON(a.logger))
	r.Use(requestLogger(a.logger))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		// Batches pace themselves with settle pauses and may legitimately
		// run for minutes, so only the read side gets a request timeout.
		api.Group(func(read chi.Router) {
			read.Use(middleware.Timeout(20 * time.Second))
			read.Get("/status", a.status)
			read.Get("/tracks/{track}/devices/{device}/pages", a.devicePages)
			read.Get("/tracks/{track}/devices/{device}/pages/{page}", a.pageSnapshot)
			read.Get("/tracks/{track}/devices/{device}/snapshot", a.deviceSnapshot)
			read.Get("/knowledge/devices", a.listKnowledgeDevices)
			read.Get("/knowledge/devices/{ref}", a.getKnowledgeDevice)
		})
		api.Post("/batch", a.executeBatch)
		api.Post("/knowledge/reload", a.reloadKnowledge)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"bridge_connected": a.gateway.BridgeConnected(),
	})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.gateway.Status(r.Context()))
}

func (a *API) executeBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "operations are required")
		return
	}
	// Per-operation failures live inside the response body; the HTTP
	// status only reflects whether the batch was accepted and run.
	writeJSON(w, http.StatusOK, a.gateway.ExecuteBatch(r.Context(), req))
}

func (a *API) devicePages(w http.ResponseWriter, r *http.Request) {
	track, device, ok := a.chainParams(w, r)
	if !ok {
		return
	}
	pages, err := a.gateway.DevicePages(r.Context(), track, device)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (a *API) pageSnapshot(w http.ResponseWriter, r *http.Request) {
	track, device, ok := a.chainParams(w, r)
	if !ok {
		return
	}
	page, err := pathInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return
	}
	snap, err := a.gateway.PageSnapshot(r.Context(), track, device, page)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) deviceSnapshot(w http.ResponseWriter, r *http.Request) {
	track, device, ok := a.chainParams(w, r)
	if !ok {
		return
	}
	snap, err := a.gateway.DeviceSnapshot(r.Context(), track, device)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) listKnowledgeDevices(w http.ResponseWriter, r *http.Request) {
	items, err := a.catalog.Search(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getKnowledgeDevice(w http.ResponseWriter, r *http.Request) {
	d, err := a.catalog.ResolveRef(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	detail, err := a.catalog.Get(r.Context(), d.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) reloadKnowledge(w http.ResponseWriter, _ *http.Request) {
	a.reload.TriggerReload()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) chainParams(w http.ResponseWriter, r *http.Request) (track, device int, ok bool) {
	track, err := pathInt(r, "track")
	if err == nil {
		device, err = pathInt(r, "device")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return 0, 0, false
	}
	return track, device, true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bitwig.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "track_not_found", err.Error())
	case errors.Is(err, bitwig.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", err.Error())
	case errors.Is(err, knowledge.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, "unknown_device", err.Error())
	case errors.Is(err, knowledge.ErrAmbiguousRef):
		writeError(w, http.StatusBadRequest, "ambiguous_ref", err.Error())
	case errors.Is(err, bitwig.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, bitwig.ErrBridgeUnavailable):
		writeError(w, http.StatusBadGateway, "bridge_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// RunServer serves until ctx is cancelled, then drains in-flight requests.
func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
