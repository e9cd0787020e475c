package health

import (
	"encoding/json"
	"net/http"

	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// Response is the JSON body of a health endpoint.
type Response struct {
	Status  string                 `json:"status"`            // "healthy" | "unhealthy"
	Checks  map[string]CheckStatus `json:"checks,omitempty"`  // check name -> status
	Message string                 `json:"message,omitempty"` // optional message
}

// CheckStatus is one check's entry in the HTTP response.
type CheckStatus struct {
	Status  string `json:"status"`            // "ok" | "error"
	Error   string `json:"error,omitempty"`   // error message if status is "error"
	Latency string `json:"latency,omitempty"` // latency in human-readable format
}

// LivenessHandler serves the liveness probe: 200 when alive, 503 when the
// process should be restarted.
func (h *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckLiveness(r.Context())
		h.writeResponse(w, status, err)
	}
}

// ReadinessHandler serves the readiness probe: 200 when ready for traffic,
// 503 when not.
func (h *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckReadiness(r.Context())
		h.writeResponse(w, status, err)
	}
}

func (h *Checker) writeResponse(w http.ResponseWriter, status *Status, err error) {
	w.Header().Set("Content-Type", "application/json")

	response := Response{Checks: make(map[string]CheckStatus)}
	if status.Healthy {
		response.Status = "healthy"
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
		if err != nil {
			response.Message = err.Error()
		}
	}

	for _, result := range status.Checks {
		entry := CheckStatus{Latency: result.Latency.String()}
		if result.Healthy {
			entry.Status = "ok"
		} else {
			entry.Status = "error"
			entry.Error = result.Error
		}
		response.Checks[result.Name] = entry
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		if h.logger != nil {
			h.logger.Error("Failed to encode health response", logger.ErrorField(err))
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
