package api

import (
	"net/http"

	"washbook/internal/booking"
	"washbook/internal/metrics"
	"washbook/internal/models"
)

type bookResponse struct {
	Success     bool                `json:"success"`
	Reservation *models.Reservation `json:"reservation,omitempty"`
}

type reservationsResponse struct {
	Success      bool                 `json:"success"`
	Reservations []models.Reservation `json:"reservations"`
}

type deleteRequest struct {
	ID reservationID `json:"id"`
}

// handleTimeslots returns the slot grid of one day.
// GET /api/timeslots?date=YYYY-MM-DD
func (s *HTTPServer) handleTimeslots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("timeslots")

	view, err := s.deps.Slots.DayView(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := *view
	out.Date = models.FormatDay(view.Date, s.opts.DateLayout)
	writeJSON(w, http.StatusOK, out)
}

// handleBook reserves a slot for the session identity.
// POST /api/book
func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("book")

	identity, _ := IdentityFromContext(r.Context())

	var req booking.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := s.deps.Booking.Book(r.Context(), identity, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := s.present([]models.Reservation{*created})[0]
	writeJSON(w, http.StatusOK, bookResponse{Success: true, Reservation: &out})
}

// handleMyReservations lists the reservations of the session identity.
// GET /api/my_reservations
func (s *HTTPServer) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("my_reservations")

	identity, _ := IdentityFromContext(r.Context())
	list, err := s.deps.Booking.ListMine(r.Context(), identity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationsResponse{Success: true, Reservations: s.present(list)})
}

// handleDeleteReservation cancels one of the caller's reservations.
// POST /api/delete_reservation, POST /api/cancel_reservation
func (s *HTTPServer) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("delete_reservation")

	identity, _ := IdentityFromContext(r.Context())

	var req deleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Booking.Cancel(r.Context(), identity, int64(req.ID)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
