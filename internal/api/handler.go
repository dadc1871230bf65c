package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/service"
	"github.com/ricochet1k/termslots/internal/session"
	"github.com/ricochet1k/termslots/internal/storage"
	"github.com/ricochet1k/termslots/internal/terminal"
	apiTypes "github.com/ricochet1k/termslots/pkg/api"
)

const DefaultIdentityHeader = "X-Remote-User"

type HandlerConfig struct {
	// IdentityHeader carries the user name a fronting proxy has
	// authenticated.
	IdentityHeader string
	Logger         *slog.Logger
}

// Handler serves the slot API on top of a slot manager and the
// configuration store.
type Handler struct {
	slots          *service.SlotManager
	store          storage.Store
	identityHeader string
	log            *slog.Logger
}

func NewHandler(slots *service.SlotManager, store storage.Store, cfg HandlerConfig) *Handler {
	h := &Handler{
		slots:          slots,
		store:          store,
		identityHeader: cfg.IdentityHeader,
		log:            cfg.Logger,
	}
	if h.identityHeader == "" {
		h.identityHeader = DefaultIdentityHeader
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// Router returns the complete HTTP handler: address filtering for every
// route, identity and CSRF checks for everything under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.filterAddress)
	r.Get("/healthz", h.healthz)
	r.Group(func(r chi.Router) {
		r.Use(CSRFMiddleware)
		r.Use(h.requireUser)
		h.Mount(r)
	})
	return r
}

// Mount registers all API routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/motd", h.getMOTD)
	r.Get("/api/profiles", h.listProfiles)
	r.Post("/api/profiles/{id}/launch", h.launchProfile)
	r.Get("/api/slots", h.listSlots)
	r.Get("/api/slots/{id}", h.getSlot)
	r.Delete("/api/slots/{id}", h.closeSlot)
	r.Get("/api/slots/{id}/snapshot", h.getSnapshot)
	r.Get("/api/slots/{id}/transcript", h.getTranscript)
	r.Get("/api/slots/{id}/ws", h.slotWebSocket)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getMOTD(w http.ResponseWriter, r *http.Request) {
	motd, err := h.store.LoadMOTD(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load motd", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, apiTypes.MOTDResponse{Text: motd})
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.slots.Profiles(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list profiles", err.Error())
		return
	}
	resp := apiTypes.ProfileListResponse{Profiles: make([]apiTypes.ProfileResponse, 0, len(profiles))}
	for _, p := range profiles {
		resp.Profiles = append(resp.Profiles, apiTypes.ProfileResponse{
			ID:           p.ID.String(),
			Name:         p.Name,
			Cols:         p.Width,
			Rows:         p.Height,
			Encoding:     p.Encoding,
			MaxInstances: p.MaxInstances,
			Running:      h.slots.Running(p.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) launchProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userFrom(ctx)
	profile, err := storage.FindSlotProfile(ctx, h.store, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slot, err := h.slots.Launch(ctx, user, profile.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slotResponse(slot))
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	slots := h.slots.List(r.Context(), userFrom(r.Context()))
	resp := apiTypes.SlotListResponse{Slots: make([]apiTypes.SlotResponse, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.slots.Watch(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponse(slot))
}

func (h *Handler) closeSlot(w http.ResponseWriter, r *http.Request) {
	if err := h.slots.CloseSlot(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.slots.Watch(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cols, rows, ok := viewportSize(r, slot.Bridge)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid viewport size", "cols and rows must be integers")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(slot.Bridge.RenderInto(cols, rows)))
}

func (h *Handler) getTranscript(w http.ResponseWriter, r *http.Request) {
	slot, err := h.slots.Watch(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	text, truncated := slot.Bridge.Transcript()
	writeJSON(w, http.StatusOK, apiTypes.TranscriptResponse{Text: text, Truncated: truncated})
}

// viewportSize reads cols and rows from the query, defaulting to the slot's
// own size and clamping like the launch geometry.
func viewportSize(r *http.Request, b *session.Bridge) (int, int, bool) {
	cols, rows := b.Size()
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *int
	}{{"cols", &cols}, {"rows", &rows}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, false
		}
		*p.dst = domain.ClampDimension(n)
	}
	return cols, rows, true
}

func slotResponse(s *service.Slot) apiTypes.SlotResponse {
	cols, rows := s.Bridge.Size()
	return apiTypes.SlotResponse{
		ID:        s.ID,
		Name:      s.Name,
		ProfileID: s.ProfileID.String(),
		Profile:   s.ProfileName,
		Launcher:  s.LauncherName,
		Started:   s.Started,
		State:     s.Bridge.State().String(),
		Cols:      cols,
		Rows:      rows,
	}
}

func snapshotResponse(g terminal.Grid) apiTypes.TerminalSnapshot {
	snap := apiTypes.TerminalSnapshot{
		Rows:  g.Height,
		Cols:  g.Width,
		Lines: g.Lines(),
		Spans: make([][]apiTypes.TerminalSpan, g.Height),
	}
	for y, row := range g.Styles() {
		spans := make([]apiTypes.TerminalSpan, len(row))
		for i, s := range row {
			spans[i] = apiTypes.TerminalSpan{Text: s.Text, Fg: s.Fg, Bg: s.Bg, Bold: s.Bold}
		}
		snap.Spans[y] = spans
	}
	return snap
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied", err.Error())
	case errors.Is(err, service.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot not found", err.Error())
	case errors.Is(err, service.ErrProfileNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "slot profile not found", err.Error())
	case errors.Is(err, service.ErrCapacity):
		writeError(w, http.StatusConflict, "no free instances", err.Error())
	case errors.Is(err, service.ErrLaunchCooldown):
		writeError(w, http.StatusTooManyRequests, "launches suspended", err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, "slot closed", err.Error())
	case errors.Is(err, service.ErrManagerShutdown):
		writeError(w, http.StatusServiceUnavailable, "server shutting down", err.Error())
	case errors.Is(err, session.ErrLaunchFailed):
		writeError(w, http.StatusBadGateway, "launch failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}
