package index

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocid "github.com/ipfs/go-cid"
	"gorm.io/gorm"

	"kepler.host/kepler/capability"
	kcid "kepler.host/kepler/cid"
)

type CapabilityStore struct{ db *gorm.DB }

var _ capability.Store = (*CapabilityStore)(nil)

// Insert stores c's canonical sections as JSON, keyed by its CID. Re-derives
// the section maps by re-rendering c so the row is exactly reconstructible
// (FindCapability's Render/Decode round trip below).
func (s *CapabilityStore) Insert(ctx context.Context, c *capability.Capability) error {
	row, err := toRow(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *CapabilityStore) Revoke(ctx context.Context, id gocid.Cid, at time.Time) error {
	idStr, err := kcid.String(id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&Capability{}).
		Where("cid = ?", idStr).
		Update("revoked_at", at).Error
}

// FindCapability implements capability.Store.
func (s *CapabilityStore) FindCapability(ctx context.Context, id gocid.Cid) (*capability.Capability, error) {
	idStr, err := kcid.String(id)
	if err != nil {
		return nil, err
	}
	var row Capability
	if err := s.db.WithContext(ctx).First(&row, "cid = ?", idStr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

// RevokedAt implements capability.Store.
func (s *CapabilityStore) RevokedAt(ctx context.Context, id gocid.Cid) (time.Time, error) {
	idStr, err := kcid.String(id)
	if err != nil {
		return time.Time{}, err
	}
	var row Capability
	if err := s.db.WithContext(ctx).First(&row, "cid = ?", idStr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if row.RevokedAt == nil {
		return time.Time{}, nil
	}
	return *row.RevokedAt, nil
}

// NonceSeen and MarkNonceSeen complete capability.Store by delegating to
// NonceStore, so the capability engine and Store.Nonces() read and write
// the same nonce table.
func (s *CapabilityStore) NonceSeen(ctx context.Context, orbitID, nonce string) (bool, error) {
	return (&NonceStore{db: s.db}).Seen(ctx, orbitID, nonce)
}

func (s *CapabilityStore) MarkNonceSeen(ctx context.Context, orbitID, nonce string) error {
	return (&NonceStore{db: s.db}).Mark(ctx, orbitID, nonce)
}

func toRow(c *capability.Capability) (*Capability, error) {
	canonical, id, err := capability.EncodeCapability(c)
	if err != nil {
		return nil, err
	}
	doc, err := capability.Parse(canonical)
	if err != nil {
		return nil, err
	}
	resourcesJSON, err := json.Marshal(doc.Resources)
	if err != nil {
		return nil, err
	}
	caveatsJSON, err := json.Marshal(doc.Caveats)
	if err != nil {
		return nil, err
	}
	proofJSON, err := json.Marshal(doc.Proof)
	if err != nil {
		return nil, err
	}

	idStr, err := kcid.String(id)
	if err != nil {
		return nil, err
	}
	var parentStr *string
	if c.ParentCID != nil {
		s, err := kcid.String(*c.ParentCID)
		if err != nil {
			return nil, err
		}
		parentStr = &s
	}
	var orbitID string
	if len(c.Resources) > 0 {
		orbitID = c.Resources[0].OrbitID
	}

	return &Capability{
		CID:           idStr,
		OrbitID:       orbitID,
		ParentCID:     parentStr,
		IssuerDID:     c.IssuerDID,
		AudienceDID:   c.AudienceDID,
		ResourcesJSON: string(resourcesJSON),
		CaveatsJSON:   string(caveatsJSON),
		ProofJSON:     string(proofJSON),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// fromRow reconstructs a capability.Capability by rebuilding its canonical
// Document from the stored section maps and decoding it — the row never
// duplicates capability's own codec.
func fromRow(row *Capability) (*capability.Capability, error) {
	var resources, caveats, proof map[string]string
	if err := json.Unmarshal([]byte(row.ResourcesJSON), &resources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.CaveatsJSON), &caveats); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.ProofJSON), &proof); err != nil {
		return nil, err
	}

	doc := capability.Document{
		Meta:      map[string]string{"version": "1"},
		Issuer:    map[string]string{"did": row.IssuerDID},
		Audience:  map[string]string{"did": row.AudienceDID},
		Resources: resources,
		Caveats:   caveats,
		Proof:     proof,
	}
	canonical, err := capability.Render(doc)
	if err != nil {
		return nil, err
	}
	return capability.DecodeCapability(canonical)
}
