package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/internal/service/telemetry"
	"github.com/sharetube/watchparty/pkg/rest"
)

type listRoomsResponse struct {
	Rooms       []string `json:"rooms"`
	Connections int      `json:"connections"`
}

func (c controller) listRooms(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, r, http.StatusOK, rest.Envelope{"data": listRoomsResponse{
		Rooms:       c.roomService.Rooms(),
		Connections: c.connRepo.Len(),
	}})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")

	snapshot, err := c.roomService.Snapshot(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			c.writeJSON(w, r, http.StatusNotFound, rest.Envelope{"error": err.Error()})
			return
		}

		c.logger.WarnContext(r.Context(), "failed to get room snapshot", "error", err)
		c.writeJSON(w, r, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	c.writeJSON(w, r, http.StatusOK, rest.Envelope{"data": snapshot})
}

func (c controller) getRoomDrift(w http.ResponseWriter, r *http.Request) {
	if c.driftRepo == nil {
		c.writeJSON(w, r, http.StatusNotFound, rest.Envelope{"error": "drift telemetry is disabled"})
		return
	}

	roomId := chi.URLParam(r, "room-id")

	reports, err := c.driftRepo.GetRoomReports(r.Context(), roomId)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to get drift reports", "error", err)
		c.writeJSON(w, r, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	if reports == nil {
		reports = []telemetry.Report{}
	}

	c.writeJSON(w, r, http.StatusOK, rest.Envelope{"data": reports})
}

func (c controller) writeJSON(w http.ResponseWriter, r *http.Request, status int, data rest.Envelope) {
	if err := rest.WriteJSON(w, status, data); err != nil {
		c.logger.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}
