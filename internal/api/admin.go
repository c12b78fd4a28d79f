package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"washbook/internal/metrics"
)

type adminRequest struct {
	Password string        `json:"admin_password"`
	ID       reservationID `json:"id"`
}

type deleteAllResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// POST /admin/list
func (s *HTTPServer) handleAdminList(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_list")

	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	list, err := s.deps.Admin.ListAll(r.Context(), req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationsResponse{Success: true, Reservations: s.present(list)})
}

// POST /admin/delete_one
func (s *HTTPServer) handleAdminDeleteOne(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_delete_one")

	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	deleted, err := s.deps.Admin.DeleteOne(r.Context(), req.Password, int64(req.ID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /admin/delete_all
func (s *HTTPServer) handleAdminDeleteAll(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_delete_all")

	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	n, err := s.deps.Admin.DeleteAll(r.Context(), req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteAllResponse{Success: true, Deleted: n})
}

// POST /admin/export
func (s *HTTPServer) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_export")

	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Admin.Export(r.Context(), req.Password, &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("reservations_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
