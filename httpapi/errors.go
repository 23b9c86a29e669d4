package httpapi

import (
	"encoding/json"
	"net/http"

	"kepler.host/kepler/kerr"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError renders err as a §7-shaped response: status from
// kerr.HTTPStatus, body identifying the kind for machine-readable
// handling by clients.
func writeError(w http.ResponseWriter, err error) {
	kind := kerr.KindOf(err)
	status := kerr.HTTPStatus(kind)
	w.Header().Set("Content-Type", "application/json")
	if kind == kerr.KindBackendUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: string(kind), Message: err.Error()})
}
