package trigger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// HTTPHandler starts a tick on POST.
type HTTPHandler struct {
	sink   Sink
	logger *slog.Logger
}

// NewHTTPHandler creates tick trigger handler.
func NewHTTPHandler(sink Sink, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{sink: sink, logger: logger}
}

type response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP answers 202 when the tick started, 409 while another tick runs.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := h.sink.TriggerTick(SourceHTTP)
	switch {
	case err == nil:
		writeJSON(writer, http.StatusAccepted, response{Status: "accepted"})
	case errors.Is(err, ErrBusy):
		writeJSON(writer, http.StatusConflict, response{Status: "busy", Error: err.Error()})
	default:
		h.logger.Error("http tick trigger failed", "error", err.Error())
		writeJSON(writer, http.StatusServiceUnavailable, response{Status: "unavailable", Error: err.Error()})
	}
}

func writeJSON(writer http.ResponseWriter, status int, body response) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
