package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"ragchat/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// errorFor maps an error onto a status code and response body.
func errorFor(err error) (int, ErrorResponse) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		details := make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			details[k] = v
		}
		return http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: verr.Message, Details: details}
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, errBadBody):
		return http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, domain.ErrGenerationUnreachable):
		return http.StatusBadGateway, ErrorResponse{Error: "generation_unavailable", Message: "the answer could not be generated; nothing was recorded, please retry"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "internal server error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	if werr := writeJSON(w, status, body); werr != nil {
		s.logger.Error("failed to write error response", zap.Error(werr))
	}
}

// writeEvent emits one server-sent event and flushes it.
func writeEvent(w http.ResponseWriter, f http.Flusher, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}
