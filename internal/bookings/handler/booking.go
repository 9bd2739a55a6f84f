package handler

import (
	"encoding/json"
	"net/http"

	"bonzai/internal/bookings/service"
	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
	"bonzai/pkg/logger"
	"bonzai/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type BookingHandler struct {
	service service.BookingService
	log     *logger.Logger
}

func NewBookingHandler(service service.BookingService, log *logger.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log,
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "Create", apperrors.InvalidInput("Invalid request body"))
		return
	}

	booking, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, booking); err != nil {
		h.log.FromContext(r.Context()).Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *BookingHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.FromContext(r.Context()).Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

// GetAll lists bookings. With ?date=D it returns the bookings holding a
// room on night D, with ?from=A&to=B those holding one on any night of
// [A, B). Otherwise it pages through every booking.
func (h *BookingHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	date, from, to := query.Get("date"), query.Get("from"), query.Get("to")

	switch {
	case date != "":
		bookings, err := h.service.GetByDate(r.Context(), date)
		if err != nil {
			h.writeError(w, r, "GetAll", err)
			return
		}
		if err := httputil.WriteSuccess(w, bookings); err != nil {
			h.log.FromContext(r.Context()).Error("failed to write success response", "handler", "GetAll", "operation", "WriteSuccess", "error", err)
		}
		return

	case from != "" || to != "":
		if from == "" || to == "" {
			h.writeError(w, r, "GetAll", apperrors.InvalidInput("Both 'from' and 'to' query parameters are required"))
			return
		}
		bookings, err := h.service.GetByInterval(r.Context(), from, to)
		if err != nil {
			h.writeError(w, r, "GetAll", err)
			return
		}
		if err := httputil.WriteSuccess(w, bookings); err != nil {
			h.log.FromContext(r.Context()).Error("failed to write success response", "handler", "GetAll", "operation", "WriteSuccess", "error", err)
		}
		return
	}

	page, err := httputil.ParsePage(r)
	if err != nil {
		h.writeError(w, r, "GetAll", err)
		return
	}

	bookings, total, err := h.service.GetAll(r.Context(), page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, r, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, page); err != nil {
		h.log.FromContext(r.Context()).Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *BookingHandler) Modify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var patch model.BookingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, r, "Modify", apperrors.InvalidInput("Invalid request body"))
		return
	}

	booking, err := h.service.Modify(r.Context(), ps.ByName("id"), &patch)
	if err != nil {
		h.writeError(w, r, "Modify", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.FromContext(r.Context()).Error("failed to write success response", "handler", "Modify", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.Cancel(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, "Cancel", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.FromContext(r.Context()).Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.FromContext(r.Context()).Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/bookings", h.Create)
	router.GET("/api/v1/bookings", h.GetAll)
	router.GET("/api/v1/bookings/:id", h.GetByID)
	router.PATCH("/api/v1/bookings/:id", h.Modify)
	router.POST("/api/v1/bookings/:id/cancel", h.Cancel)
}
