package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocid "github.com/ipfs/go-cid"

	"kepler.host/kepler/did"
)

// Engine verifies delegations and invocations per §4.5, caching delegation
// verification results by capability CID and invalidating descendants
// transitively when an ancestor is revoked (the spec's resolved Open
// Question: revocation cascades).
type Engine struct {
	Store    Store
	Resolver did.Resolver

	mu        sync.Mutex
	verified  map[gocid.Cid]bool          // cache: CID -> last-known-valid
	children  map[gocid.Cid][]gocid.Cid   // parent CID -> child CIDs seen so far
}

func NewEngine(store Store, resolver did.Resolver) *Engine {
	return &Engine{
		Store:    store,
		Resolver: resolver,
		verified: make(map[gocid.Cid]bool),
		children: make(map[gocid.Cid][]gocid.Cid),
	}
}

// VerifyCapability walks c's ancestry, checking signatures, caveats, and
// attenuation at every step (§4.5 "Verification of a delegation").
func (e *Engine) VerifyCapability(ctx context.Context, c *Capability) error {
	if cached, ok := e.cacheGet(c.CID); ok {
		if !cached {
			return fmt.Errorf("capability: %s failed verification (cached)", c.CID)
		}
		// Even a cached-valid result must be re-checked for revocation:
		// revocation is recorded out-of-band from the signature cache.
		if err := e.checkNotRevoked(ctx, c); err != nil {
			return err
		}
		return nil
	}

	err := e.verifyUncached(ctx, c)
	e.cacheSet(c.CID, err == nil)
	return err
}

func (e *Engine) verifyUncached(ctx context.Context, c *Capability) error {
	if err := e.checkNotRevoked(ctx, c); err != nil {
		return err
	}

	scope, err := SignedScope(c.Canonical)
	if err != nil {
		return err
	}
	doc, err := e.Resolver.Resolve(ctx, c.IssuerDID)
	if err != nil {
		return fmt.Errorf("capability: resolve issuer %s: %w", c.IssuerDID, err)
	}
	vm, err := doc.VerificationMethodByID("")
	if err != nil {
		return err
	}
	if err := verifySignature(c.SignatureAlg, vm.PublicKeyBytes, c.Signature, scope); err != nil {
		return fmt.Errorf("capability: %s: %w", c.CID, err)
	}

	now := time.Now().UTC()
	if now.Before(c.NotBefore) || now.After(c.NotAfter) {
		return fmt.Errorf("capability: %s outside validity window", c.CID)
	}

	if c.IsRoot() {
		return nil // root validity against orbit.controller_did is checked by the caller (it knows the orbit)
	}

	parent, err := e.Store.FindCapability(ctx, *c.ParentCID)
	if err != nil {
		return fmt.Errorf("capability: parent %s: %w", *c.ParentCID, err)
	}
	e.recordChild(*c.ParentCID, c.CID)

	if c.IssuerDID != parent.AudienceDID {
		return fmt.Errorf("capability: %s issuer does not match parent audience", c.CID)
	}
	if err := checkAttenuation(c, parent); err != nil {
		return err
	}
	// Recursively ensure the parent is valid and unrevoked (§4.5 step 6).
	return e.VerifyCapability(ctx, parent)
}

func checkAttenuation(child, parent *Capability) error {
	if !(child.NotBefore.After(parent.NotBefore) || child.NotBefore.Equal(parent.NotBefore)) {
		return fmt.Errorf("capability: %s not-before widens parent's window", child.CID)
	}
	if !(child.NotAfter.Before(parent.NotAfter) || child.NotAfter.Equal(parent.NotAfter)) {
		return fmt.Errorf("capability: %s not-after widens parent's window", child.CID)
	}
	for _, cr := range child.Resources {
		narrower := false
		for _, pr := range parent.Resources {
			if cr.LE(pr) {
				narrower = true
				break
			}
		}
		if !narrower {
			return fmt.Errorf("capability: %s resource %s/%s exceeds parent's grant", child.CID, cr.OrbitID, cr.KeyPattern)
		}
	}
	return nil
}

// checkNotRevoked walks ancestors via the store to see whether c or any
// ancestor has been revoked (transitive revocation, per the spec's
// resolved Open Question). c itself need not be in the store yet.
func (e *Engine) checkNotRevoked(ctx context.Context, c *Capability) error {
	cur := c
	for {
		revokedAt, err := e.Store.RevokedAt(ctx, cur.CID)
		if err != nil {
			return err
		}
		if !revokedAt.IsZero() {
			e.invalidateDescendants(cur.CID)
			return fmt.Errorf("capability: %s revoked at %s (ancestor %s)", c.CID, revokedAt, cur.CID)
		}
		if cur.ParentCID == nil {
			return nil
		}
		parent, err := e.Store.FindCapability(ctx, *cur.ParentCID)
		if err != nil {
			return err
		}
		cur = parent
	}
}

// invalidateDescendants drops every cached entry transitively descended
// from revoked, so a stale "valid" result never survives a revocation.
func (e *Engine) invalidateDescendants(revoked gocid.Cid) {
	e.mu.Lock()
	defer e.mu.Unlock()
	queue := []gocid.Cid{revoked}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		delete(e.verified, cur)
		queue = append(queue, e.children[cur]...)
	}
}

func (e *Engine) cacheGet(id gocid.Cid) (valid bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.verified[id]
	return v, ok
}

func (e *Engine) cacheSet(id gocid.Cid, valid bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verified[id] = valid
}

func (e *Engine) recordChild(parent, child gocid.Cid) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.children[parent] {
		if c == child {
			return
		}
	}
	e.children[parent] = append(e.children[parent], child)
}

// VerifyRoot checks a root capability against the orbit's controller DID
// (§3 "valid only if its issuer equals the orbit's controller DID").
func (e *Engine) VerifyRoot(ctx context.Context, c *Capability, controllerDID string) error {
	if !c.IsRoot() {
		return fmt.Errorf("capability: %s is not a root", c.CID)
	}
	if c.IssuerDID != controllerDID {
		return fmt.Errorf("capability: root %s issuer does not match orbit controller", c.CID)
	}
	return e.VerifyCapability(ctx, c)
}

// VerifyInvocation checks inv against its named capability (§4.5
// "Verification of an invocation"), including inv's own signature against
// the invoker's DID document. The nonce replay check and the body-hash
// check run here too; once every check passes the nonce is recorded via
// Store.MarkNonceSeen before returning, outside any transaction shared with
// the operation the invocation authorizes.
func (e *Engine) VerifyInvocation(ctx context.Context, inv *Invocation, orbitID string, streamedBodyHash *gocid.Cid) error {
	cap, err := e.Store.FindCapability(ctx, inv.CapabilityCID)
	if err != nil {
		return fmt.Errorf("invocation: capability %s: %w", inv.CapabilityCID, err)
	}
	if err := e.VerifyCapability(ctx, cap); err != nil {
		return fmt.Errorf("invocation: %w", err)
	}

	if inv.InvokerDID != cap.AudienceDID {
		return fmt.Errorf("invocation: invoker does not match capability audience")
	}

	matched := false
	for _, r := range cap.Resources {
		if r.OrbitID != orbitID {
			continue
		}
		if !inv.Action.Subset(r.Actions) {
			continue
		}
		if !KeyMatches(r.KeyPattern, inv.TargetKey) {
			continue
		}
		matched = true
		break
	}
	if !matched {
		return fmt.Errorf("invocation: action %s on %q not permitted by capability", inv.Action, inv.TargetKey)
	}

	now := time.Now().UTC()
	expiry := inv.Expiry
	if cap.NotAfter.Before(expiry) {
		expiry = cap.NotAfter
	}
	notBefore := inv.NotBefore
	if cap.NotBefore.After(notBefore) {
		notBefore = cap.NotBefore
	}
	if now.After(expiry) {
		return fmt.Errorf("invocation: expired")
	}
	if now.Before(notBefore) {
		return fmt.Errorf("invocation: not yet valid")
	}

	scope, err := SignedScope(inv.Canonical)
	if err != nil {
		return fmt.Errorf("invocation: %w", err)
	}
	doc, err := e.Resolver.Resolve(ctx, inv.InvokerDID)
	if err != nil {
		return fmt.Errorf("invocation: resolve invoker %s: %w", inv.InvokerDID, err)
	}
	vm, err := doc.VerificationMethodByID("")
	if err != nil {
		return err
	}
	if err := verifySignature(inv.SignatureAlg, vm.PublicKeyBytes, inv.Signature, scope); err != nil {
		return fmt.Errorf("invocation: %w", err)
	}

	seen, err := e.Store.NonceSeen(ctx, orbitID, inv.Nonce)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("invocation: nonce already used (replay)")
	}

	if inv.BodyHash != nil {
		if streamedBodyHash == nil || !streamedBodyHash.Equals(*inv.BodyHash) {
			return fmt.Errorf("invocation: body hash mismatch")
		}
	}

	return e.Store.MarkNonceSeen(ctx, orbitID, inv.Nonce)
}

// VerifyRevocation checks rev's signature against its claimed issuer, then
// requires that issuer to actually be the issuer of rev.TargetCID or one of
// its ancestors (§4.5 "a signed statement from an ancestor capability's
// issuer naming a descendant CID") before persisting the revocation.
func (e *Engine) VerifyRevocation(ctx context.Context, rev *Revocation) error {
	scope, err := SignedScope(rev.Canonical)
	if err != nil {
		return err
	}
	doc, err := e.Resolver.Resolve(ctx, rev.IssuerDID)
	if err != nil {
		return fmt.Errorf("revocation: resolve issuer %s: %w", rev.IssuerDID, err)
	}
	vm, err := doc.VerificationMethodByID("")
	if err != nil {
		return err
	}
	if err := verifySignature(rev.SignatureAlg, vm.PublicKeyBytes, rev.Signature, scope); err != nil {
		return fmt.Errorf("revocation: %w", err)
	}

	authorized := false
	for cur := rev.TargetCID; ; {
		c, err := e.Store.FindCapability(ctx, cur)
		if err != nil {
			return fmt.Errorf("revocation: target %s: %w", cur, err)
		}
		if c.IssuerDID == rev.IssuerDID {
			authorized = true
			break
		}
		if c.ParentCID == nil {
			break
		}
		cur = *c.ParentCID
	}
	if !authorized {
		return fmt.Errorf("revocation: %s is not issued by an ancestor of %s", rev.IssuerDID, rev.TargetCID)
	}

	if err := e.Store.Revoke(ctx, rev.TargetCID, rev.At); err != nil {
		return err
	}
	e.invalidateDescendants(rev.TargetCID)
	return nil
}
