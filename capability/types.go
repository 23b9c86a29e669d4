package capability

import (
	"strconv"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"

	kcid "kepler.host/kepler/cid"
)

// Capability is the decoded form of §3's Capability: a signed statement
// naming an issuer, an audience, a set of resources/actions, caveats, and a
// proof linking it to its parent (if any).
type Capability struct {
	CID             gocid.Cid
	IssuerDID       string
	AudienceDID     string
	Resources       []Resource
	NotBefore       time.Time
	NotAfter        time.Time
	Nonce           string
	ParentCID       *gocid.Cid
	SignatureAlg    string
	Signature       []byte
	Canonical       []byte // rendered canonical bytes, kept for signature re-verification
}

// IsRoot reports whether this capability has no parent.
func (c *Capability) IsRoot() bool { return c.ParentCID == nil }

// Resource is one entry of §4.5's action lattice: an action set plus a key
// pattern, scoped to a single orbit.
type Resource struct {
	OrbitID    string
	Actions    ActionSet
	KeyPattern string // e.g. "*", "greeting", "logs/*"
}

// ActionSet is a bitset over the five primitive actions (§4.5).
type ActionSet uint8

const (
	ActionRead ActionSet = 1 << iota
	ActionWrite
	ActionList
	ActionDelete
	ActionDelegate
)

var actionNames = map[ActionSet]string{
	ActionRead:     "read",
	ActionWrite:    "write",
	ActionList:     "list",
	ActionDelete:   "delete",
	ActionDelegate: "delegate",
}

func (s ActionSet) String() string {
	var names []string
	for _, bit := range []ActionSet{ActionRead, ActionWrite, ActionList, ActionDelete, ActionDelegate} {
		if s&bit != 0 {
			names = append(names, actionNames[bit])
		}
	}
	return strings.Join(names, ",")
}

func ParseActionSet(s string) ActionSet {
	var out ActionSet
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		for bit, name := range actionNames {
			if tok == name {
				out |= bit
			}
		}
	}
	return out
}

// Subset reports a ⊆ b for action sets.
func (a ActionSet) Subset(b ActionSet) bool { return a&^b == 0 }

// KeyPatternRefines reports whether pattern child is at least as narrow as
// pattern parent (§4.5 "key pattern is a refinement"). "*" matches
// everything; "prefix/*" matches keys under prefix/; an exact key matches
// only itself.
func KeyPatternRefines(child, parent string) bool {
	if parent == "*" {
		return true
	}
	if child == parent {
		return true
	}
	if strings.HasSuffix(parent, "/*") {
		parentPrefix := strings.TrimSuffix(parent, "*")
		if strings.HasSuffix(child, "/*") {
			childPrefix := strings.TrimSuffix(child, "*")
			return strings.HasPrefix(childPrefix, parentPrefix)
		}
		return strings.HasPrefix(child, parentPrefix)
	}
	return false
}

// KeyMatches reports whether key satisfies pattern.
func KeyMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// LE implements the attenuation relation a ≤ b for a single resource: a's
// action set is a subset of b's, and a's key pattern refines b's. Resources
// must name the same orbit.
func (a Resource) LE(b Resource) bool {
	return a.OrbitID == b.OrbitID && a.Actions.Subset(b.Actions) && KeyPatternRefines(a.KeyPattern, b.KeyPattern)
}

// Invocation is the decoded form of §3's Invocation.
type Invocation struct {
	InvokerDID    string
	CapabilityCID gocid.Cid
	Action        ActionSet
	TargetKey     string // empty for list/create-style orbit-wide actions
	BodyHash      *gocid.Cid
	Nonce         string
	NotBefore     time.Time
	Expiry        time.Time
	SignatureAlg  string
	Signature     []byte
	Canonical     []byte
}

// Revocation is a signed statement from an ancestor capability's issuer
// naming a descendant capability CID (§4.5 "Revocation is a signed
// statement from an ancestor capability's issuer naming a descendant CID").
type Revocation struct {
	IssuerDID    string
	TargetCID    gocid.Cid
	At           time.Time
	SignatureAlg string
	Signature    []byte
	Canonical    []byte
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}

func cidStringOrEmpty(id *gocid.Cid) string {
	if id == nil {
		return ""
	}
	s, err := kcid.String(*id)
	if err != nil {
		return id.String()
	}
	return s
}
