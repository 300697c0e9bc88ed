package conversation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// Handler exposes the engine over HTTP so staff can rehearse a patient
// conversation without WhatsApp. Replies are returned instead of sent.
type Handler struct {
	engine EventHandler
	logger *logging.Logger
}

// NewHandler creates a simulator handler.
func NewHandler(engine EventHandler, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

type simulateResponse struct {
	Replies []Reply `json:"replies"`
	Error   string  `json:"error,omitempty"`
}

// Simulate handles POST /api/simulate with an Event body.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var evt Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&evt); err != nil {
		h.logger.Warn("failed to decode simulate request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(evt.Text) == "" && strings.TrimSpace(evt.SelectionID) == "" {
		http.Error(w, "text or selection_id is required", http.StatusBadRequest)
		return
	}

	replies, err := h.engine.Handle(r.Context(), evt)
	if err != nil {
		if errors.Is(err, ErrMissingPatient) {
			http.Error(w, "patient_id is required", http.StatusBadRequest)
			return
		}
		h.logger.Error("simulated turn failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, simulateResponse{Replies: replies, Error: "turn failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, simulateResponse{Replies: replies})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
