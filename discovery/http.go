package discovery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Routes returns the admin HTTP surface: trigger a run, inspect status,
// run history, accepted records and the rejection log.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/runs", s.handleTriggerRun)
	r.Get("/status", s.handleStatus)
	r.Get("/runs", s.handleRecentRuns)
	r.Get("/stores", s.handleListStores)
	r.Get("/rejections", s.handleRejections)
	return r
}

func (s *Service) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cadence string `json:"cadence"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Cadence == "" {
		body.Cadence = "fast"
	}

	err := s.TriggerRun(body.Cadence)
	switch {
	case errors.Is(err, ErrUnknownCadence):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrTriggerQueued):
		// Coalesced into the pending trigger; from the caller's view the
		// run is on its way either way.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "coalesced", "cadence": body.Cadence})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "cadence": body.Cadence})
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.RecentRuns(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Service) handleListStores(w http.ResponseWriter, r *http.Request) {
	records, err := s.ListStores(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": records})
}

func (s *Service) handleRejections(w http.ResponseWriter, r *http.Request) {
	rejections, err := s.RecentRejections(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejections": rejections})
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
