package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/sumoctl/controller/internal/apierr"
)

// ErrorResponse is the JSON envelope returned for any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes v as a JSON body with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError writes an ErrorResponse with the given status, error code,
// and message.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondAPIErr maps an apierr.Error (or any error) to its wire status and
// writes the corresponding envelope.
func RespondAPIErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	RespondError(w, kind.Status(), string(kind), apierr.MessageOf(err))
}
