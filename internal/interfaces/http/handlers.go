package http

import (
	"encoding/json"
	"net/http"

	kerrors "github.com/entrega363/kiro2/internal/errors"
	"github.com/entrega363/kiro2/internal/remote"
)

// listResponse wraps a record list with the repository's degraded flag so
// the UI can show its transient notice.
type listResponse struct {
	Data     []remote.Record `json:"data"`
	Degraded bool            `json:"degraded"`
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	records := s.services.Load(r.Context(), queryParams(r))
	success(w, http.StatusOK, listResponse{Data: records, Degraded: s.services.Degraded()})
}

func (s *Server) listBookings(w http.ResponseWriter, r *http.Request) {
	records := s.bookings.Load(r.Context(), queryParams(r))
	success(w, http.StatusOK, listResponse{Data: records, Degraded: s.bookings.Degraded()})
}

func (s *Server) listGallery(w http.ResponseWriter, r *http.Request) {
	records := s.gallery.Load(r.Context(), queryParams(r))
	success(w, http.StatusOK, listResponse{Data: records, Degraded: s.gallery.Degraded()})
}

// createBooking is the write path: validation failures are the caller's
// fault, exhausted retries surface as 503 with the offline protocol number.
func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var record remote.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		failure(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	created, protocol, err := s.bookings.Create(r.Context(), record)
	if err != nil {
		if kerrors.IsValidation(err) {
			failure(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		success(w, http.StatusServiceUnavailable, map[string]string{
			"error":    "booking could not be delivered to the server",
			"protocol": protocol,
		})
		return
	}

	success(w, http.StatusCreated, created)
}

func (s *Server) reloadServicesHandler(w http.ResponseWriter, r *http.Request) {
	s.reloadServices()
	success(w, http.StatusAccepted, map[string]string{"status": "reload scheduled"})
}

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	success(w, http.StatusOK, s.notifier.Recent())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.Snapshot()
	success(w, http.StatusOK, map[string]any{
		"requests":       snapshot.Requests,
		"failures":       snapshot.Failures,
		"retries":        snapshot.Retries,
		"cacheHits":      snapshot.CacheHits,
		"cacheMisses":    snapshot.CacheMisses,
		"avgLatencyMs":   snapshot.AverageLatency.Milliseconds(),
		"degradedMode": map[string]bool{
			"services": s.services.Degraded(),
			"bookings": s.bookings.Degraded(),
			"gallery":  s.gallery.Degraded(),
		},
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	success(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryParams lifts the request's query string into strategy parameters; the
// same map feeds both the cache key and the remote filters.
func queryParams(r *http.Request) map[string]any {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]any, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return params
}
