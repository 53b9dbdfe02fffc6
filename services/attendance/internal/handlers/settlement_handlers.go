package handlers

import (
	"net/http"

	"github.com/diagnosis/checkin-refunds/services/attendance/internal/domain"
)

func (h *Handlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	programID, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid program ID", domain.CodeInvalidInput)
		return
	}
	participantID, ok := parseID(r, "pid")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid participant ID", domain.CodeInvalidInput)
		return
	}

	settlement, err := h.settlements.SettleParticipant(r.Context(), programID, participantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// SettleProgram recomputes every active participant of the program.
func (h *Handlers) SettleProgram(w http.ResponseWriter, r *http.Request) {
	programID, ok := parseID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid program ID", domain.CodeInvalidInput)
		return
	}

	result, err := h.settlements.SettleProgram(r.Context(), programID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
