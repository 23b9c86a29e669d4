package httpapi

import (
	"errors"
	"io"
	"net/http"

	"kepler.host/kepler/capability"
	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/index"
	"kepler.host/kepler/kerr"
)

// handleDelegate submits a delegation, root or descendant (§4.8 "Submit a
// delegation … Body = encoded capability"). The capability's own resources
// name its orbit; root capabilities are additionally checked against the
// orbit's controller DID.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "failed reading body", err))
		return
	}

	c, err := capability.DecodeCapability(body)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "capability does not parse", err))
		return
	}
	if len(c.Resources) == 0 {
		writeError(w, kerr.New(kerr.KindMalformedRequest, "capability grants no resources"))
		return
	}
	orbitID := c.Resources[0].OrbitID

	ctx := r.Context()
	if c.IsRoot() {
		// Look up without creating: an orbit's controller must never be
		// persisted from an unverified request, or a forged root
		// capability for an unclaimed orbit ID would permanently squat
		// it before its signature is even checked (§3 "Orbits are
		// created when a first root delegation … is accepted" — only
		// once accepted).
		o, err := s.Index.Orbits().Get(ctx, orbitID)
		var controllerDID string
		switch {
		case err == nil:
			controllerDID = o.ControllerDID
		case errors.Is(err, index.ErrNotFound):
			controllerDID = c.IssuerDID
		default:
			writeError(w, kerr.Wrap(kerr.KindInternal, "orbit lookup failed", err))
			return
		}
		if err := s.Engine.VerifyRoot(ctx, c, controllerDID); err != nil {
			writeError(w, kerr.Wrap(kerr.KindUnauthorized, "root capability rejected", err))
			return
		}
		if _, err := s.Index.Orbits().GetOrCreate(ctx, orbitID, c.IssuerDID); err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "orbit creation failed", err))
			return
		}
	} else {
		if err := s.Engine.VerifyCapability(ctx, c); err != nil {
			writeError(w, kerr.Wrap(kerr.KindUnauthorized, "capability rejected", err))
			return
		}
	}

	if err := s.Capabilities.Insert(ctx, c); err != nil {
		writeError(w, kerr.Wrap(kerr.KindInternal, "capability store failed", err))
		return
	}

	idStr, err := kcid.String(c.CID)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindInternal, "cid render failed", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(idStr))
}
