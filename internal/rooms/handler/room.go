package handler

import (
	"net/http"
	"strconv"

	"bonzai/internal/rooms/service"
	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
	"bonzai/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type RoomHandler struct {
	service service.RoomService
	log     *logger.Logger
}

func NewRoomHandler(service service.RoomService, log *logger.Logger) *RoomHandler {
	return &RoomHandler{
		service: service,
		log:     log,
	}
}

func (h *RoomHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, err := h.service.GetAll(r.Context())
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetAll", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, rooms); err != nil {
		h.log.Error("failed to write success response", "handler", "GetAll", "operation", "WriteSuccess", "error", err)
	}
}

func (h *RoomHandler) GetByNo(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	raw := ps.ByName("no")
	roomNo, err := strconv.Atoi(raw)
	if err != nil {
		if writeErr := httputil.WriteError(w, apperrors.InvalidInput("invalid room number: "+raw)); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetByNo", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	room, err := h.service.GetByNo(r.Context(), roomNo)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "GetByNo", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, room); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByNo", "operation", "WriteSuccess", "error", err)
	}
}

func (h *RoomHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/rooms", h.GetAll)
	router.GET("/api/v1/rooms/:no", h.GetByNo)
}
