package index

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PinStore struct{ db *gorm.DB }

// Increment inserts a pin at refcount 1, or bumps an existing row's
// refcount by 1 (§4.7 put: "pin incremented (insert or increment)").
func (p *PinStore) Increment(ctx context.Context, orbitID, cid string) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "orbit_id"}, {Name: "cid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"refcount": gorm.Expr("refcount + 1")}),
	}).Create(&Pin{OrbitID: orbitID, CID: cid, Refcount: 1}).Error
}

// Decrement drops a pin's refcount by 1, returning the resulting count.
// Callers treat a result of 0 as a GC candidate (§4.7 "may reach 0 → GC
// candidate").
func (p *PinStore) Decrement(ctx context.Context, orbitID, cid string) (int64, error) {
	tx := p.db.WithContext(ctx).Model(&Pin{}).
		Where("orbit_id = ? AND cid = ? AND refcount > 0", orbitID, cid).
		UpdateColumn("refcount", gorm.Expr("refcount - 1"))
	if tx.Error != nil {
		return 0, tx.Error
	}
	var row Pin
	if err := p.db.WithContext(ctx).First(&row, "orbit_id = ? AND cid = ?", orbitID, cid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Refcount, nil
}

func (p *PinStore) Get(ctx context.Context, orbitID, cid string) (int64, error) {
	var row Pin
	if err := p.db.WithContext(ctx).First(&row, "orbit_id = ? AND cid = ?", orbitID, cid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Refcount, nil
}

// ZeroRefcountCIDs returns every CID in orbitID with no remaining pin,
// for GC's mark phase.
func (p *PinStore) ZeroRefcountCIDs(ctx context.Context, orbitID string) ([]string, error) {
	var rows []Pin
	if err := p.db.WithContext(ctx).Where("orbit_id = ? AND refcount = 0", orbitID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.CID
	}
	return out, nil
}

func (p *PinStore) Delete(ctx context.Context, orbitID, cid string) error {
	return p.db.WithContext(ctx).Delete(&Pin{}, "orbit_id = ? AND cid = ?", orbitID, cid).Error
}

// AnyOrbitPinned reports whether cid has a positive refcount in any orbit,
// for the store-wide sweep which is not scoped to a single orbit.
func (p *PinStore) AnyOrbitPinned(ctx context.Context, cid string) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&Pin{}).
		Where("cid = ? AND refcount > 0", cid).
		Count(&count).Error
	return count > 0, err
}
