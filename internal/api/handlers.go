package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"garagehub/internal/database"
	"garagehub/internal/export"
	"garagehub/internal/models"
	"garagehub/internal/service"
	"garagehub/internal/timeline"
	"garagehub/internal/tracking"
)

const exportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// writeServiceError maps domain errors onto status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrBookingNotFound),
		errors.Is(err, database.ErrMechanicNotFound),
		errors.Is(err, service.ErrViewNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidBooking):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// parsePoint reads "lat,lng".
func parsePoint(raw string) (models.GeoPoint, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return models.GeoPoint{}, fmt.Errorf("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("invalid latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("invalid longitude")
	}
	p := models.GeoPoint{Lat: lat, Lng: lng}
	return p, validatePoint(p)
}

func validatePoint(p models.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.svc.Checks))
	healthy := true
	for name, check := range s.svc.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]any{"status": "ok", "checks": checks}
	if s.svc.Tracking != nil {
		resp["active_views"] = s.svc.Tracking.Active()
	}
	if !healthy {
		resp["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createBookingRequest struct {
	CustomerID       int64            `json:"customer_id"`
	CustomerName     string           `json:"customer_name"`
	CustomerChatID   int64            `json:"customer_chat_id"`
	ServiceName      string           `json:"service_name"`
	ScheduledAt      time.Time        `json:"scheduled_at"`
	CustomerLocation *models.GeoPoint `json:"customer_location"`
	Comment          string           `json:"comment"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CustomerLocation != nil {
		if err := validatePoint(*body.CustomerLocation); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	booking := &models.Booking{
		CustomerID:       body.CustomerID,
		CustomerName:     strings.TrimSpace(body.CustomerName),
		CustomerChatID:   body.CustomerChatID,
		ServiceName:      strings.TrimSpace(body.ServiceName),
		ScheduledAt:      body.ScheduledAt,
		CustomerLocation: body.CustomerLocation,
		Comment:          body.Comment,
	}
	if err := s.svc.Bookings.CreateBooking(r.Context(), booking); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	booking, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("view")))
	switch view {
	case "":
		view = service.ViewCustomer
	case service.ViewCustomer, service.ViewMechanic:
	default:
		writeError(w, http.StatusBadRequest, "view must be customer or mechanic")
		return
	}

	tl, err := s.svc.Bookings.Timeline(r.Context(), id, timeline.ParseVariant(r.URL.Query().Get("variant")), view)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

type statusRequest struct {
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	ChangedBy string `json:"changed_by"`
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body statusRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, ok := models.ParseBookingStatus(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", body.Status))
		return
	}

	booking, err := s.svc.Bookings.UpdateStatus(r.Context(), id, body.Version, status, changedBy(body.ChangedBy))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type assignRequest struct {
	MechanicID int64  `json:"mechanic_id"`
	Version    int64  `json:"version"`
	ChangedBy  string `json:"changed_by"`
}

func (s *HTTPServer) handleAssignMechanic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body assignRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.MechanicID <= 0 {
		writeError(w, http.StatusBadRequest, "mechanic_id is required")
		return
	}

	booking, err := s.svc.Bookings.AssignMechanic(r.Context(), id, body.Version, body.MechanicID, changedBy(body.ChangedBy))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func changedBy(raw string) string {
	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return "api"
}

func (s *HTTPServer) handleCustomerBookings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bookings, err := s.svc.Bookings.CustomerBookings(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// exportRange reads from/to as YYYY-MM-DD in the server location. Both days
// are inclusive; the default is the last DefaultExportRangeDays days.
func (s *HTTPServer) exportRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	from := today.AddDate(0, 0, -models.DefaultExportRangeDays)
	to := today

	parse := func(key string, dst *time.Time) error {
		raw := strings.TrimSpace(r.URL.Query().Get(key))
		if raw == "" {
			return nil
		}
		t, err := time.ParseInLocation("2006-01-02", raw, s.location)
		if err != nil {
			return fmt.Errorf("invalid %s date; expected YYYY-MM-DD", key)
		}
		*dst = t
		return nil
	}
	if err := parse("from", &from); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if err := parse("to", &to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not be before from")
	}
	return from, to, nil
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.exportRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	bookings, err := s.svc.Bookings.BookingsInRange(r.Context(), from, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	f, err := export.BookingsWorkbook(bookings, s.location)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", exportContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	if _, err := f.WriteTo(w); err != nil {
		s.logger.Error().Err(err).Msg("failed to stream export")
	}
}

type openViewRequest struct {
	BookingID   int64            `json:"booking_id"`
	Destination *models.GeoPoint `json:"destination"`
}

func (s *HTTPServer) handleOpenView(w http.ResponseWriter, r *http.Request) {
	var body openViewRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.BookingID <= 0 {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}
	if body.Destination != nil {
		if err := validatePoint(*body.Destination); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	snap, err := s.svc.Tracking.Open(r.Context(), body.BookingID, body.Destination)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *HTTPServer) handleGetView(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Tracking.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleCloseView(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Tracking.Close(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleLatestTracking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.svc.Tracking.LatestForBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleListMechanics(w http.ResponseWriter, r *http.Request) {
	mechanics, err := s.svc.Mechanics.ListMechanics(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if mechanics == nil {
		mechanics = []*models.Mechanic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mechanics": mechanics})
}

func (s *HTTPServer) handleGetMechanic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mechanic, err := s.svc.Mechanics.GetMechanic(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mechanic)
}

func (s *HTTPServer) handleMechanicLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body models.GeoPoint
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validatePoint(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.svc.Mechanics.UpdateLocation(r.Context(), id, body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDistance measures the straight-line distance and ETA between two
// points without a booking.
func (s *HTTPServer) handleDistance(w http.ResponseWriter, r *http.Request) {
	from, err := parsePoint(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parsePoint(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	params := tracking.DefaultParams()
	if s.svc.Tracking != nil {
		params = s.svc.Tracking.Params()
	}
	writeJSON(w, http.StatusOK, tracking.Measure(from, to, params))
}

func (s *HTTPServer) handleCurrentPromo(w http.ResponseWriter, r *http.Request) {
	if s.svc.Promos == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	banner, ok := s.svc.Promos.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, banner)
}
