package httpapi

import (
	"io"
	"net/http"

	"kepler.host/kepler/capability"
	"kepler.host/kepler/kerr"
)

// handleRevoke submits a signed revocation statement (§4.5 "Revocation is a
// signed statement from an ancestor capability's issuer naming a
// descendant CID"). Body = encoded revocation.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "failed reading body", err))
		return
	}

	rev, err := capability.DecodeRevocation(body)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "revocation does not parse", err))
		return
	}

	if err := s.Engine.VerifyRevocation(r.Context(), rev); err != nil {
		writeError(w, kerr.Wrap(kerr.KindUnauthorized, "revocation rejected", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
