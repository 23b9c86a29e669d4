package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kepler.host/kepler/capability"
	"kepler.host/kepler/did"
	"kepler.host/kepler/index"
	"kepler.host/kepler/object"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/staging"
	"kepler.host/kepler/storage/localfs"
	"kepler.host/kepler/telemetry"
)

const testOrbit = "orbit-1"

type testEnv struct {
	srv           *Server
	idx           *index.Store
	resolver      *did.Registry
	controllerDID string
	controllerKey *capability.Signer
	invokerDID    string
	invokerKey    *capability.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(index.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	idx := index.New(db)

	resolver := did.NewRegistry()
	resolver.Register("key", did.KeyResolver{})

	engine := capability.NewEngine(idx.Capabilities(), resolver)

	blocks, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	objSvc := object.New(blocks, idx, staging.NewMemoryArea(0))

	secret, err := orbit.NewSecret(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	mgr := orbit.NewManager(secret, idx, 10, 0)

	controllerDID, controllerKey := newTestIdentity(t)
	invokerDID, invokerKey := newTestIdentity(t)

	srv := &Server{
		Engine:       engine,
		Capabilities: idx.Capabilities(),
		Index:        idx,
		Objects:      objSvc,
		Orbits:       mgr,
		Logger:       zap.NewNop(),
		Metrics:      telemetry.NewMetrics(prometheus.NewRegistry()),
		HostID:       "did:key:zhost",
	}

	return &testEnv{
		srv:           srv,
		idx:           idx,
		resolver:      resolver,
		controllerDID: controllerDID,
		controllerKey: controllerKey,
		invokerDID:    invokerDID,
		invokerKey:    invokerKey,
	}
}

func newTestIdentity(t *testing.T) (string, *capability.Signer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	d, err := did.NewKeyDID(pub)
	if err != nil {
		t.Fatalf("NewKeyDID: %v", err)
	}
	return d, capability.NewEd25519Signer(priv)
}

// issueRootCapability signs and stores a root capability granting actions
// over keyPattern in testOrbit to env's invoker, seeding the orbit's
// controller row so VerifyRoot accepts it.
func (env *testEnv) issueRootCapability(t *testing.T, actions capability.ActionSet, keyPattern string) *capability.Capability {
	t.Helper()
	ctx := context.Background()

	if _, err := env.idx.Orbits().GetOrCreate(ctx, testOrbit, env.controllerDID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	root := &capability.Capability{
		IssuerDID:   env.controllerDID,
		AudienceDID: env.invokerDID,
		Resources:   []capability.Resource{{OrbitID: testOrbit, Actions: actions, KeyPattern: keyPattern}},
		NotBefore:   time.Now().Add(-time.Hour).UTC(),
		NotAfter:    time.Now().Add(time.Hour).UTC(),
		Nonce:       "root-nonce",
	}
	root.SignatureAlg = env.controllerKey.Alg
	canonical, _, err := capability.EncodeCapability(root)
	if err != nil {
		t.Fatalf("EncodeCapability: %v", err)
	}
	scope, err := capability.SignedScope(canonical)
	if err != nil {
		t.Fatalf("SignedScope: %v", err)
	}
	sig, err := env.controllerKey.Sign(scope)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	root.Signature = sig
	final, _, err := capability.EncodeCapability(root)
	if err != nil {
		t.Fatalf("EncodeCapability (final): %v", err)
	}
	decoded, err := capability.DecodeCapability(final)
	if err != nil {
		t.Fatalf("DecodeCapability: %v", err)
	}
	if err := env.idx.Capabilities().Insert(ctx, decoded); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return decoded
}

// invocationToken signs an invocation against cap and wraps it as the JWS
// compact form handleInvoke expects in the X-Kepler-Invocation header.
func (env *testEnv) invocationToken(t *testing.T, cap *capability.Capability, action capability.ActionSet, targetKey, nonce string) string {
	t.Helper()
	inv := &capability.Invocation{
		InvokerDID:    env.invokerDID,
		CapabilityCID: cap.CID,
		Action:        action,
		TargetKey:     targetKey,
		Nonce:         nonce,
		NotBefore:     time.Now().Add(-time.Minute).UTC(),
		Expiry:        time.Now().Add(time.Minute).UTC(),
		SignatureAlg:  capability.AlgEd25519,
	}
	canonical, err := capability.EncodeInvocation(inv)
	if err != nil {
		t.Fatalf("EncodeInvocation: %v", err)
	}
	scope, err := capability.SignedScope(canonical)
	if err != nil {
		t.Fatalf("SignedScope: %v", err)
	}
	sig, err := env.invokerKey.Sign(scope)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	inv.Signature = sig
	final, err := capability.EncodeInvocation(inv)
	if err != nil {
		t.Fatalf("EncodeInvocation (final): %v", err)
	}

	claims := &invocationClaims{Inv: base64.StdEncoding.EncodeToString(final)}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestServer_HostInfo(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/hostInfo", nil)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body hostInfoResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.HostID != "did:key:zhost" {
		t.Fatalf("HostID = %q, want did:key:zhost", body.HostID)
	}
	if len(body.SupportedCodecs) == 0 {
		t.Fatalf("expected non-empty supported codecs")
	}
}

func TestServer_PeerGenerate(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/peer/generate?orbit="+testOrbit, nil)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	var body peerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.OrbitID != testOrbit {
		t.Fatalf("OrbitID = %q, want %q", body.OrbitID, testOrbit)
	}
	if body.PeerDID == "" {
		t.Fatalf("expected non-empty peer DID")
	}
}

func TestServer_PeerGenerate_MissingOrbit(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/peer/generate", nil)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestServer_Delegate_RootCapability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.idx.Orbits().GetOrCreate(ctx, testOrbit, env.controllerDID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	root := &capability.Capability{
		IssuerDID:   env.controllerDID,
		AudienceDID: env.invokerDID,
		Resources:   []capability.Resource{{OrbitID: testOrbit, Actions: capability.ActionRead | capability.ActionWrite, KeyPattern: "*"}},
		NotBefore:   time.Now().Add(-time.Hour).UTC(),
		NotAfter:    time.Now().Add(time.Hour).UTC(),
		Nonce:       "root-nonce",
		SignatureAlg: env.controllerKey.Alg,
	}
	canonical, _, err := capability.EncodeCapability(root)
	if err != nil {
		t.Fatalf("EncodeCapability: %v", err)
	}
	scope, err := capability.SignedScope(canonical)
	if err != nil {
		t.Fatalf("SignedScope: %v", err)
	}
	sig, err := env.controllerKey.Sign(scope)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	root.Signature = sig
	final, _, err := capability.EncodeCapability(root)
	if err != nil {
		t.Fatalf("EncodeCapability (final): %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/delegate", bytes.NewReader(final))
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_Invoke_PutThenGet(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite, "greeting")

	putToken := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "inv-put-1")
	putReq := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("hello kepler")))
	putReq.Header.Set(InvocationHeader, putToken)
	putReq.Header.Set(OrbitHeader, testOrbit)
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(putRR, putReq)
	if putRR.Code != http.StatusCreated {
		t.Fatalf("put status = %d, want 201, body=%s", putRR.Code, putRR.Body.String())
	}

	getToken := env.invocationToken(t, cap, capability.ActionRead, "greeting", "inv-get-1")
	getReq := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	getReq.Header.Set(InvocationHeader, getToken)
	getReq.Header.Set(OrbitHeader, testOrbit)
	getRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", getRR.Code, getRR.Body.String())
	}
	if getRR.Body.String() != "hello kepler" {
		t.Fatalf("get body = %q, want %q", getRR.Body.String(), "hello kepler")
	}
}

func TestServer_Invoke_ListAndDelete(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite|capability.ActionList|capability.ActionDelete, "*")

	for i, key := range []string{"logs/a", "logs/b"} {
		token := env.invocationToken(t, cap, capability.ActionWrite, key, "inv-put-list-"+key+"-"+string(rune('0'+i)))
		req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte(key)))
		req.Header.Set(InvocationHeader, token)
		req.Header.Set(OrbitHeader, testOrbit)
		rr := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("put(%s) status = %d, want 201, body=%s", key, rr.Code, rr.Body.String())
		}
	}

	listToken := env.invocationToken(t, cap, capability.ActionList, "", "inv-list-1")
	listReq := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	listReq.Header.Set(InvocationHeader, listToken)
	listReq.Header.Set(OrbitHeader, testOrbit)
	listRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(listRR, listReq)
	if listRR.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200, body=%s", listRR.Code, listRR.Body.String())
	}
	var entries []listEntryJSON
	if err := json.Unmarshal(listRR.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("list returned %d entries, want 2", len(entries))
	}

	deleteToken := env.invocationToken(t, cap, capability.ActionDelete, "logs/a", "inv-delete-1")
	deleteReq := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	deleteReq.Header.Set(InvocationHeader, deleteToken)
	deleteReq.Header.Set(OrbitHeader, testOrbit)
	deleteRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(deleteRR, deleteReq)
	if deleteRR.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204, body=%s", deleteRR.Code, deleteRR.Body.String())
	}
}

func TestServer_Invoke_RejectsNonceReplay(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite, "greeting")
	token := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "replay-nonce")

	for i, wantStatus := range []int{http.StatusCreated, http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("v")))
		req.Header.Set(InvocationHeader, token)
		req.Header.Set(OrbitHeader, testOrbit)
		rr := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rr, req)
		if rr.Code != wantStatus {
			t.Fatalf("attempt %d: status = %d, want %d, body=%s", i, rr.Code, wantStatus, rr.Body.String())
		}
	}
}

func TestServer_Invoke_RejectsActionNotGranted(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead, "greeting")
	token := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "inv-escalate-1")

	req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("nope")))
	req.Header.Set(InvocationHeader, token)
	req.Header.Set(OrbitHeader, testOrbit)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_Invoke_MissingHeaders(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

// TestServer_Delegate_InvalidRootSignatureDoesNotSquatOrbit guards against a
// root delegation whose signature fails verification nonetheless leaving
// the unclaimed orbit permanently squatted under the claimed issuer's DID.
func TestServer_Delegate_InvalidRootSignatureDoesNotSquatOrbit(t *testing.T) {
	env := newTestEnv(t)
	attackerDID, _ := newTestIdentity(t)
	_, wrongKey := newTestIdentity(t)

	forged := &capability.Capability{
		IssuerDID:    attackerDID,
		AudienceDID:  attackerDID,
		Resources:    []capability.Resource{{OrbitID: "unclaimed-orbit", Actions: capability.ActionRead | capability.ActionWrite, KeyPattern: "*"}},
		NotBefore:    time.Now().Add(-time.Hour).UTC(),
		NotAfter:     time.Now().Add(time.Hour).UTC(),
		Nonce:        "attacker-root-nonce",
		SignatureAlg: capability.AlgEd25519,
	}
	canonical, _, err := capability.EncodeCapability(forged)
	if err != nil {
		t.Fatalf("EncodeCapability: %v", err)
	}
	scope, err := capability.SignedScope(canonical)
	if err != nil {
		t.Fatalf("SignedScope: %v", err)
	}
	// Signed with the wrong key: verification against attackerDID's
	// resolved key must fail.
	sig, err := wrongKey.Sign(scope)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	forged.Signature = sig
	final, _, err := capability.EncodeCapability(forged)
	if err != nil {
		t.Fatalf("EncodeCapability (final): %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/delegate", bytes.NewReader(final))
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rr.Code, rr.Body.String())
	}

	if _, err := env.idx.Orbits().Get(context.Background(), "unclaimed-orbit"); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("orbit must remain unclaimed after a rejected root delegation, got err=%v", err)
	}
}

// TestServer_Invoke_UnknownOrbitNotFound guards against /invoke creating an
// index row (with an empty controller) for an orbit that has never had a
// root delegation accepted.
func TestServer_Invoke_UnknownOrbitNotFound(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite, "*")
	token := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "inv-unknown-orbit-1")

	req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("x")))
	req.Header.Set(InvocationHeader, token)
	req.Header.Set(OrbitHeader, "never-seen-orbit")
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rr.Code, rr.Body.String())
	}

	if _, err := env.idx.Orbits().Get(context.Background(), "never-seen-orbit"); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("orbit must remain unclaimed after a rejected invocation, got err=%v", err)
	}
}

func TestServer_Invoke_PutBatch(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionWrite, "*")
	token := env.invocationToken(t, cap, capability.ActionWrite, "", "inv-batch-1")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part1, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="batch/a"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part1.Write([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	part2, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="batch/b"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part2.Write([]byte(`not-json`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/invoke", &body)
	req.Header.Set(InvocationHeader, token)
	req.Header.Set(OrbitHeader, testOrbit)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%q", rr.Code, rr.Body.String())
	}

	lines := strings.Split(strings.TrimSuffix(rr.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), rr.Body.String())
	}
	if lines[0] == "" {
		t.Fatalf("part 0 (valid json): expected a cid, got a blank failure line")
	}
	if lines[1] != "" {
		t.Fatalf("part 1 (invalid json): expected a blank failure line, got %q", lines[1])
	}
}

func TestServer_Invoke_GetByCID(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite, "*")

	putToken := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "inv-cid-put-1")
	putReq := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("hello kepler")))
	putReq.Header.Set(InvocationHeader, putToken)
	putReq.Header.Set(OrbitHeader, testOrbit)
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(putRR, putReq)
	if putRR.Code != http.StatusCreated {
		t.Fatalf("put status = %d, want 201, body=%s", putRR.Code, putRR.Body.String())
	}
	cidStr := putRR.Body.String()

	getToken := env.invocationToken(t, cap, capability.ActionRead, "", "inv-cid-get-1")
	getReq := httptest.NewRequest(http.MethodGet, "/"+testOrbit+"/"+cidStr, nil)
	getReq.Header.Set(InvocationHeader, getToken)
	getRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", getRR.Code, getRR.Body.String())
	}
	if getRR.Body.String() != "hello kepler" {
		t.Fatalf("get body = %q, want %q", getRR.Body.String(), "hello kepler")
	}
}

func TestServer_Revoke_SubsequentInvocationRejected(t *testing.T) {
	env := newTestEnv(t)
	cap := env.issueRootCapability(t, capability.ActionRead|capability.ActionWrite, "greeting")

	putToken := env.invocationToken(t, cap, capability.ActionWrite, "greeting", "inv-before-revoke-1")
	putReq := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte("hi")))
	putReq.Header.Set(InvocationHeader, putToken)
	putReq.Header.Set(OrbitHeader, testOrbit)
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(putRR, putReq)
	if putRR.Code != http.StatusCreated {
		t.Fatalf("put before revoke: status = %d, want 201, body=%s", putRR.Code, putRR.Body.String())
	}

	rev := &capability.Revocation{
		IssuerDID:    env.controllerDID,
		TargetCID:    cap.CID,
		At:           time.Now().UTC(),
		SignatureAlg: env.controllerKey.Alg,
	}
	canonical, err := capability.EncodeRevocation(rev)
	if err != nil {
		t.Fatalf("EncodeRevocation: %v", err)
	}
	scope, err := capability.SignedScope(canonical)
	if err != nil {
		t.Fatalf("SignedScope: %v", err)
	}
	sig, err := env.controllerKey.Sign(scope)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	rev.Signature = sig
	final, err := capability.EncodeRevocation(rev)
	if err != nil {
		t.Fatalf("EncodeRevocation (final): %v", err)
	}

	revReq := httptest.NewRequest(http.MethodPost, "/revoke", bytes.NewReader(final))
	revRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(revRR, revReq)
	if revRR.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204, body=%s", revRR.Code, revRR.Body.String())
	}

	getToken := env.invocationToken(t, cap, capability.ActionRead, "greeting", "inv-after-revoke-1")
	getReq := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	getReq.Header.Set(InvocationHeader, getToken)
	getReq.Header.Set(OrbitHeader, testOrbit)
	getRR := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusUnauthorized {
		t.Fatalf("get after revoke: status = %d, want 401, body=%s", getRR.Code, getRR.Body.String())
	}
}
