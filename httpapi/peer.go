package httpapi

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"

	"kepler.host/kepler/did"
	"kepler.host/kepler/kerr"
)

type peerResponse struct {
	OrbitID string `json:"orbit_id"`
	PeerDID string `json:"peer_did"`
}

// handlePeerGenerate returns the host's per-orbit peer identifier: the
// did:key derived from the orbit's host key (§4.8 "Return the host's peer
// identifier (derived public key)").
func (s *Server) handlePeerGenerate(w http.ResponseWriter, r *http.Request) {
	orbitID := r.URL.Query().Get("orbit")
	if orbitID == "" {
		writeError(w, kerr.New(kerr.KindMalformedRequest, "missing orbit query parameter"))
		return
	}

	h, release, err := s.Orbits.Acquire(r.Context(), orbitID, "")
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindResourceExhausted, "orbit unavailable", err))
		return
	}
	defer release()

	pub := h.HostKey.Public().(ed25519.PublicKey)
	peerDID, err := did.NewKeyDID(pub)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindInternal, "peer did encoding failed", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(peerResponse{OrbitID: orbitID, PeerDID: peerDID})
}
