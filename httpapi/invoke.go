package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	gocid "github.com/ipfs/go-cid"
	"github.com/golang-jwt/jwt/v5"

	"kepler.host/kepler/capability"
	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/codec"
	"kepler.host/kepler/index"
	"kepler.host/kepler/kerr"
	"kepler.host/kepler/object"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/staging"
)

// InvocationHeader carries the invocation token (§6 "structured header …
// JWS compact form, base64url payload containing the invocation
// statement"). OrbitHeader names the orbit an invocation targets — the
// invocation statement itself only names a capability CID, so the caller
// must also say which orbit it expects that capability to authorize.
const (
	InvocationHeader = "X-Kepler-Invocation"
	OrbitHeader      = "X-Kepler-Orbit"
)

// invocationClaims is the JOSE payload shape: a single claim carrying the
// base64-encoded canonical invocation text. golang-jwt handles the
// envelope's base64url segment decoding and JSON unmarshaling; it performs
// no signature or claims verification here (that would be meaningless —
// the invocation's own signature is checked by the capability engine
// against the DID document, not the JWS wrapper's).
type invocationClaims struct {
	jwt.RegisteredClaims
	Inv string `json:"inv"`
}

func parseInvocationToken(token string) (*capability.Invocation, error) {
	claims := &invocationClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	canonical, err := base64.StdEncoding.DecodeString(claims.Inv)
	if err != nil {
		return nil, err
	}
	return capability.DecodeInvocation(canonical)
}

// handleInvoke executes an invocation (§4.8 "Execute an invocation.
// Headers carry the invocation token; body is the payload (for put) or
// empty").
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(InvocationHeader)
	if token == "" {
		writeError(w, kerr.New(kerr.KindMalformedRequest, "missing invocation token"))
		return
	}
	inv, err := parseInvocationToken(token)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "invocation token does not parse", err))
		return
	}

	orbitID := r.Header.Get(OrbitHeader)
	if orbitID == "" {
		// Legacy direct paths (§4.8) carry the orbit in the URL, not the
		// header; /invoke proper always requires the header.
		orbitID = chi.URLParam(r, "orbitID")
	}
	if orbitID == "" {
		writeError(w, kerr.New(kerr.KindMalformedRequest, "missing orbit header"))
		return
	}

	// Orbits are only created by an accepted root delegation (§3). Acquire
	// would otherwise get-or-create the index row itself, so an /invoke
	// naming a never-seen orbit ID would squat it under an empty
	// controller DID before any capability is even checked.
	if _, err := s.Index.Orbits().Get(ctx, orbitID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, kerr.New(kerr.KindNotFound, "orbit has no accepted root capability"))
			return
		}
		writeError(w, kerr.Wrap(kerr.KindInternal, "orbit lookup failed", err))
		return
	}

	h, release, err := s.Orbits.Acquire(ctx, orbitID, "")
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindResourceExhausted, "orbit unavailable", err))
		return
	}
	defer release()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isBatch := inv.Action == capability.ActionWrite && mediaType == "multipart/form-data"

	var streamedHash *gocid.Cid
	var bodyBytes []byte
	if inv.Action == capability.ActionWrite && !isBatch {
		res, err := s.stagingArea().NewResource(ctx)
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "staging allocation failed", err))
			return
		}
		defer res.Close()
		if _, err := io.Copy(res, r.Body); err != nil {
			if err == staging.ErrTooLarge {
				writeError(w, kerr.Wrap(kerr.KindPayloadTooLarge, "request body exceeds staging limit", err))
			} else {
				writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "failed reading body", err))
			}
			return
		}
		bh, err := res.BodyHash()
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "body hash failed", err))
			return
		}
		streamedHash = &bh
		reader, err := res.Reader()
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "staging reader failed", err))
			return
		}
		bodyBytes, err = io.ReadAll(reader)
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "staging read failed", err))
			return
		}
	}

	if err := s.Engine.VerifyInvocation(ctx, inv, orbitID, streamedHash); err != nil {
		if s.Metrics != nil {
			s.Metrics.InvocationResults.WithLabelValues(inv.Action.String(), "rejected").Inc()
		}
		writeError(w, kerr.Wrap(kerr.KindUnauthorized, "invocation rejected", err))
		return
	}
	if s.Metrics != nil {
		s.Metrics.InvocationResults.WithLabelValues(inv.Action.String(), "accepted").Inc()
	}

	switch {
	case isBatch:
		s.doPutBatch(w, r, h, inv)
	case inv.Action == capability.ActionWrite:
		s.doPut(w, r, h, inv, bodyBytes)
	case inv.Action == capability.ActionRead && chi.URLParam(r, "cid") != "":
		s.doGetByCID(w, r, chi.URLParam(r, "cid"))
	case inv.Action == capability.ActionRead:
		s.doGet(w, r, h, inv)
	case inv.Action == capability.ActionList:
		s.doList(w, r, h, inv)
	case inv.Action == capability.ActionDelete:
		s.doDelete(w, r, h, inv)
	default:
		writeError(w, kerr.New(kerr.KindForbidden, "action not supported over /invoke"))
	}
}

// stagingArea is unbounded: the per-request size limit the spec describes
// for /invoke's put path is enforced by the object service's own staging
// area on the second, durable staging pass inside object.Service.Put. This
// first pass exists only to compute the body hash before trusting the
// invocation's signature.
func (s *Server) stagingArea() staging.Area {
	return staging.NewMemoryArea(0)
}

func (s *Server) doPut(w http.ResponseWriter, r *http.Request, h *orbit.Handle, inv *capability.Invocation, body []byte) {
	contentType := r.Header.Get("Content-Type")
	id, err := s.Objects.Put(r.Context(), h, inv.TargetKey, contentType, bytes.NewReader(body))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.ObjectBytesWritten.Add(float64(len(body)))
	}
	idStr, err := kcid.String(id)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindInternal, "cid render failed", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(idStr))
}

func (s *Server) doGet(w http.ResponseWriter, r *http.Request, h *orbit.Handle, inv *capability.Invocation) {
	id, data, err := s.Objects.Get(r.Context(), h, inv.TargetKey)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", codec.ContentTypeFor(kcid.CodecOf(id)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type listEntryJSON struct {
	Key string `json:"key"`
	CID string `json:"cid"`
}

func (s *Server) doList(w http.ResponseWriter, r *http.Request, h *orbit.Handle, inv *capability.Invocation) {
	entries, err := s.Objects.List(r.Context(), h, inv.TargetKey)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]listEntryJSON, 0, len(entries))
	for _, e := range entries {
		idStr, err := kcid.String(e.CID)
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "cid render failed", err))
			return
		}
		out = append(out, listEntryJSON{Key: e.Key, CID: idStr})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) doDelete(w http.ResponseWriter, r *http.Request, h *orbit.Handle, inv *capability.Invocation) {
	if err := s.Objects.Delete(r.Context(), h, inv.TargetKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// doGetByCID serves a raw content-addressed fetch, bypassing the key index
// (§4.7 get_by_cid) — reachable only once the surrounding invocation has
// already been verified for ActionRead on this orbit.
func (s *Server) doGetByCID(w http.ResponseWriter, r *http.Request, cidStr string) {
	id, err := kcid.Parse(cidStr)
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "cid does not parse", err))
		return
	}
	data, err := s.Objects.GetByCID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", codec.ContentTypeFor(kcid.CodecOf(id)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// doPutBatch serves §4.4's multipart/form-data row: each part is put
// independently through object.Service.PutBatch, and the response is
// newline-delimited CIDs in input order with a blank line marking a
// per-part failure (§4.7 put_batch, testable scenario S2).
func (s *Server) doPutBatch(w http.ResponseWriter, r *http.Request, h *orbit.Handle, inv *capability.Invocation) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "not a valid multipart request", err))
		return
	}

	var parts []object.BatchPart
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "failed reading multipart body", err))
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindMalformedRequest, "failed reading multipart part", err))
			return
		}
		key := part.FormName()
		contentType := part.Header.Get("Content-Type")
		parts = append(parts, object.BatchPart{Key: key, ContentType: contentType, Body: bytes.NewReader(data)})
	}

	results := s.Objects.PutBatch(r.Context(), h, parts)

	var buf bytes.Buffer
	for _, res := range results {
		if res.Err != nil {
			buf.WriteByte('\n')
			continue
		}
		idStr, err := kcid.String(res.CID)
		if err != nil {
			writeError(w, kerr.Wrap(kerr.KindInternal, "cid render failed", err))
			return
		}
		buf.WriteString(idStr)
		buf.WriteByte('\n')
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
