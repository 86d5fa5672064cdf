package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/credably/announcer/internal/announcement_service/app"
	"github.com/credably/announcer/internal/core_announce/domain"
)

// CreateAnnouncementRequest DTO for POST /announcements
type CreateAnnouncementRequest struct {
	Body          string   `json:"body"`
	MediaRef      string   `json:"media_ref,omitempty"`
	Channels      []string `json:"channels"`
	CorrelationID string   `json:"correlation_id"`
}

// ScheduleAnnouncementRequest DTO for POST /announcements/{id}/schedule
type ScheduleAnnouncementRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// AnnouncementResponse DTO returned by create, schedule and get.
type AnnouncementResponse struct {
	ID            string                       `json:"id"`
	Body          string                       `json:"body"`
	MediaRef      string                       `json:"media_ref,omitempty"`
	Channels      []string                     `json:"channels"`
	Status        domain.MessageStatus         `json:"status"`
	ScheduledAt   *time.Time                   `json:"scheduled_at,omitempty"`
	Deliveries    []ChannelDeliveryResponse    `json:"deliveries,omitempty"`
	CorrelationID string                       `json:"correlation_id"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// ChannelDeliveryResponse is the per-channel outcome view.
type ChannelDeliveryResponse struct {
	Channel     string                `json:"channel"`
	Status      domain.DeliveryStatus `json:"status"`
	ExternalID  string                `json:"external_id,omitempty"`
	Error       string                `json:"error,omitempty"`
	DeliveredAt *time.Time            `json:"delivered_at,omitempty"`
}

type GenericErrorResponse struct {
	Error string `json:"error"`
}

// AnnouncementHandler exposes the authoring API: create a draft, schedule it,
// and read back its delivery progress.
type AnnouncementHandler struct {
	service *app.AnnouncementAppService
	logger  *slog.Logger
}

func NewAnnouncementHandler(service *app.AnnouncementAppService, logger *slog.Logger) *AnnouncementHandler {
	return &AnnouncementHandler{
		service: service,
		logger:  logger.With("handler", "announcement"),
	}
}

// RegisterRoutes registers announcement routes with the given router.
func (h *AnnouncementHandler) RegisterRoutes(r chi.Router) {
	r.Post("/announcements", h.handleCreate)
	r.Post("/announcements/{announcementID}/schedule", h.handleSchedule)
	r.Get("/announcements/{announcementID}", h.handleGet)
}

func (h *AnnouncementHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req CreateAnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(ctx, "Failed to decode create announcement request", "error", err)
		h.jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.service.Create(ctx, app.CreateAnnouncementInput{
		Body:          req.Body,
		MediaRef:      req.MediaRef,
		Channels:      req.Channels,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoChannels) || errors.Is(err, domain.ErrDuplicateChannel) {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.ErrorContext(ctx, "Failed to create announcement", "error", err)
		h.jsonError(w, "Failed to create announcement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toResponse(m))
}

func (h *AnnouncementHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	id, err := uuid.Parse(chi.URLParam(r, "announcementID"))
	if err != nil {
		h.jsonError(w, "Invalid announcement ID format", http.StatusBadRequest)
		return
	}

	var req ScheduleAnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(ctx, "Failed to decode schedule request", "error", err, "announcement_id", id)
		h.jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ScheduledAt.IsZero() {
		h.jsonError(w, "scheduled_at is required", http.StatusBadRequest)
		return
	}

	m, err := h.service.Schedule(ctx, id, req.ScheduledAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.jsonError(w, "Announcement not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			h.jsonError(w, err.Error(), http.StatusConflict)
		default:
			logger.ErrorContext(ctx, "Failed to schedule announcement", "error", err, "announcement_id", id)
			h.jsonError(w, "Failed to schedule announcement", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(m))
}

func (h *AnnouncementHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	id, err := uuid.Parse(chi.URLParam(r, "announcementID"))
	if err != nil {
		h.jsonError(w, "Invalid announcement ID format", http.StatusBadRequest)
		return
	}

	m, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.jsonError(w, "Announcement not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "Failed to load announcement", "error", err, "announcement_id", id)
		h.jsonError(w, "Failed to load announcement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(m))
}

func (h *AnnouncementHandler) jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericErrorResponse{Error: message})
}

func toResponse(m *domain.Message) AnnouncementResponse {
	resp := AnnouncementResponse{
		ID:            m.ID.String(),
		Body:          m.Content.Body,
		MediaRef:      m.Content.MediaRef,
		Channels:      m.Channels,
		Status:        m.Status,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if !m.ScheduledAt.IsZero() {
		at := m.ScheduledAt
		resp.ScheduledAt = &at
	}
	for _, ch := range m.Channels {
		d, ok := m.Deliveries[ch]
		if !ok {
			continue
		}
		dr := ChannelDeliveryResponse{
			Channel:    d.Channel,
			Status:     d.Status,
			ExternalID: d.ExternalID,
			Error:      d.Error,
		}
		if d.DeliveredAt.Valid {
			at := d.DeliveredAt.Time
			dr.DeliveredAt = &at
		}
		resp.Deliveries = append(resp.Deliveries, dr)
	}
	return resp
}
