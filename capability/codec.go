package capability

import (
	"fmt"
	"strings"

	gocid "github.com/ipfs/go-cid"

	kcid "kepler.host/kepler/cid"
)

// EncodeCapability renders c to its canonical text form and computes its
// CID over those bytes with cid.OfRaw (CIDv1, raw codec, SHA-256).
func EncodeCapability(c *Capability) ([]byte, gocid.Cid, error) {
	res := make(map[string]string, len(c.Resources))
	for i, r := range c.Resources {
		res[fmt.Sprintf("%d", i)] = fmt.Sprintf("%s|%s|%s", r.OrbitID, r.Actions.String(), r.KeyPattern)
	}
	caveats := map[string]string{
		"not-before": formatTime(c.NotBefore),
		"not-after":  formatTime(c.NotAfter),
		"nonce":      c.Nonce,
	}
	proof := map[string]string{
		"signature-alg": c.SignatureAlg,
	}
	if c.ParentCID != nil {
		proof["parent-capability-cid"] = cidStringOrEmpty(c.ParentCID)
	}
	if len(c.Signature) > 0 {
		proof["signature"] = encodeBase64(c.Signature)
	}

	doc := Document{
		Meta:      map[string]string{"version": "1"},
		Issuer:    map[string]string{"did": c.IssuerDID},
		Audience:  map[string]string{"did": c.AudienceDID},
		Resources: res,
		Caveats:   caveats,
		Proof:     proof,
	}
	canonical, err := Render(doc)
	if err != nil {
		return nil, gocid.Undef, err
	}
	id, err := kcid.OfRaw(canonical)
	if err != nil {
		return nil, gocid.Undef, err
	}
	return canonical, id, nil
}

// DecodeCapability parses canonical bytes into a Capability.
func DecodeCapability(data []byte) (*Capability, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	id, err := kcid.OfRaw(data)
	if err != nil {
		return nil, err
	}

	var resources []Resource
	for _, v := range doc.Resources {
		parts := strings.SplitN(v, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("capability: malformed resource entry %q", v)
		}
		resources = append(resources, Resource{
			OrbitID:    parts[0],
			Actions:    ParseActionSet(parts[1]),
			KeyPattern: parts[2],
		})
	}

	notBefore, err := parseTime(doc.Caveats["not-before"])
	if err != nil {
		return nil, fmt.Errorf("capability: bad not-before: %w", err)
	}
	notAfter, err := parseTime(doc.Caveats["not-after"])
	if err != nil {
		return nil, fmt.Errorf("capability: bad not-after: %w", err)
	}

	var parent *gocid.Cid
	if p, ok := doc.Proof["parent-capability-cid"]; ok && p != "" {
		pid, err := kcid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("capability: bad parent cid: %w", err)
		}
		parent = &pid
	}

	sig, err := decodeBase64(doc.Proof["signature"])
	if err != nil {
		return nil, fmt.Errorf("capability: bad signature encoding: %w", err)
	}

	return &Capability{
		CID:          id,
		IssuerDID:    doc.Issuer["did"],
		AudienceDID:  doc.Audience["did"],
		Resources:    resources,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		Nonce:        doc.Caveats["nonce"],
		ParentCID:    parent,
		SignatureAlg: doc.Proof["signature-alg"],
		Signature:    sig,
		Canonical:    data,
	}, nil
}

// EncodeInvocation renders inv to canonical text form (RESOURCES is unused
// for invocations and left empty, per §3).
func EncodeInvocation(inv *Invocation) ([]byte, error) {
	caveats := map[string]string{
		"not-before": formatTime(inv.NotBefore),
		"expiry":     formatTime(inv.Expiry),
		"nonce":      inv.Nonce,
	}
	proof := map[string]string{
		"signature-alg":  inv.SignatureAlg,
		"capability-cid":  cidStringOrEmpty(&inv.CapabilityCID),
		"action":          inv.Action.String(),
	}
	if inv.TargetKey != "" {
		proof["target-key"] = inv.TargetKey
	}
	if inv.BodyHash != nil {
		proof["body-hash"] = cidStringOrEmpty(inv.BodyHash)
	}
	if len(inv.Signature) > 0 {
		proof["signature"] = encodeBase64(inv.Signature)
	}

	doc := Document{
		Meta:     map[string]string{"version": "1"},
		Issuer:   map[string]string{"did": inv.InvokerDID},
		Audience: map[string]string{},
		Caveats:  caveats,
		Proof:    proof,
	}
	return Render(doc)
}

// DecodeInvocation parses canonical bytes into an Invocation.
func DecodeInvocation(data []byte) (*Invocation, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	notBefore, err := parseTime(doc.Caveats["not-before"])
	if err != nil {
		return nil, fmt.Errorf("invocation: bad not-before: %w", err)
	}
	expiry, err := parseTime(doc.Caveats["expiry"])
	if err != nil {
		return nil, fmt.Errorf("invocation: bad expiry: %w", err)
	}
	capCID, err := kcid.Parse(doc.Proof["capability-cid"])
	if err != nil {
		return nil, fmt.Errorf("invocation: bad capability cid: %w", err)
	}

	var bodyHash *gocid.Cid
	if h, ok := doc.Proof["body-hash"]; ok && h != "" {
		hid, err := kcid.Parse(h)
		if err != nil {
			return nil, fmt.Errorf("invocation: bad body hash: %w", err)
		}
		bodyHash = &hid
	}

	sig, err := decodeBase64(doc.Proof["signature"])
	if err != nil {
		return nil, fmt.Errorf("invocation: bad signature encoding: %w", err)
	}

	return &Invocation{
		InvokerDID:    doc.Issuer["did"],
		CapabilityCID: capCID,
		Action:        ParseActionSet(doc.Proof["action"]),
		TargetKey:     doc.Proof["target-key"],
		BodyHash:      bodyHash,
		Nonce:         doc.Caveats["nonce"],
		NotBefore:     notBefore,
		Expiry:        expiry,
		SignatureAlg:  doc.Proof["signature-alg"],
		Signature:     sig,
		Canonical:     data,
	}, nil
}

// EncodeRevocation renders rev to canonical text form (RESOURCES and
// AUDIENCE are unused, per §3).
func EncodeRevocation(rev *Revocation) ([]byte, error) {
	caveats := map[string]string{
		"at": formatTime(rev.At),
	}
	proof := map[string]string{
		"signature-alg": rev.SignatureAlg,
		"target-cid":    cidStringOrEmpty(&rev.TargetCID),
	}
	if len(rev.Signature) > 0 {
		proof["signature"] = encodeBase64(rev.Signature)
	}

	doc := Document{
		Meta:     map[string]string{"version": "1"},
		Issuer:   map[string]string{"did": rev.IssuerDID},
		Audience: map[string]string{},
		Caveats:  caveats,
		Proof:    proof,
	}
	return Render(doc)
}

// DecodeRevocation parses canonical bytes into a Revocation.
func DecodeRevocation(data []byte) (*Revocation, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	at, err := parseTime(doc.Caveats["at"])
	if err != nil {
		return nil, fmt.Errorf("revocation: bad at: %w", err)
	}
	targetCID, err := kcid.Parse(doc.Proof["target-cid"])
	if err != nil {
		return nil, fmt.Errorf("revocation: bad target cid: %w", err)
	}
	sig, err := decodeBase64(doc.Proof["signature"])
	if err != nil {
		return nil, fmt.Errorf("revocation: bad signature encoding: %w", err)
	}

	return &Revocation{
		IssuerDID:    doc.Issuer["did"],
		TargetCID:    targetCID,
		At:           at,
		SignatureAlg: doc.Proof["signature-alg"],
		Signature:    sig,
		Canonical:    data,
	}, nil
}
