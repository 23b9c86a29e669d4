package httpapi

import (
	"encoding/json"
	"net/http"
)

type hostInfoResponse struct {
	HostID          string   `json:"host_id"`
	SupportedCodecs []string `json:"supported_codecs"`
}

// supportedCodecs mirrors codec.ForContentType's accepted content types
// (§4.4 table).
var supportedCodecs = []string{
	"application/octet-stream",
	"application/json",
	"application/msgpack",
	"application/cbor",
}

// handleHostInfo reports this host's identity and codec support (§4.8
// "Return host id + supported codecs").
func (s *Server) handleHostInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(hostInfoResponse{
		HostID:          s.HostID,
		SupportedCodecs: supportedCodecs,
	})
}
