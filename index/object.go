package index

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type ObjectStore struct{ db *gorm.DB }

// Head returns the most recent version of orbitID/userKey, or ErrNotFound if
// the key has never been written (§3 "the head is the most recent
// non-tombstoned version" — callers check Tombstone themselves since a
// tombstone is itself a version and Head must still see it to serialize
// concurrent writers correctly).
func (o *ObjectStore) Head(ctx context.Context, orbitID, userKey string) (*ObjectVersion, error) {
	var row ObjectVersion
	err := o.db.WithContext(ctx).
		Where("orbit_id = ? AND user_key = ?", orbitID, userKey).
		Order("version_seq DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// AppendVersion inserts the next version_seq for orbitID/userKey. Callers
// hold the per-key mutex (§4.7 "Ordering") so version_seq assignment here
// never races within a process; the primary key still protects against any
// cross-process race.
func (o *ObjectStore) AppendVersion(ctx context.Context, v *ObjectVersion) error {
	var maxSeq int64
	err := o.db.WithContext(ctx).Model(&ObjectVersion{}).
		Where("orbit_id = ? AND user_key = ?", v.OrbitID, v.UserKey).
		Select("COALESCE(MAX(version_seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return err
	}
	v.VersionSeq = maxSeq + 1
	return o.db.WithContext(ctx).Create(v).Error
}

// ListHeads returns the current head of every key under orbitID matching
// prefix, ordered ascending by key (§4.7 list).
func (o *ObjectStore) ListHeads(ctx context.Context, orbitID, prefix string) ([]ObjectVersion, error) {
	var latest []struct {
		UserKey string
		MaxSeq  int64
	}
	if err := o.db.WithContext(ctx).Model(&ObjectVersion{}).
		Select("user_key, MAX(version_seq) as max_seq").
		Where("orbit_id = ? AND user_key LIKE ?", orbitID, prefix+"%").
		Group("user_key").
		Order("user_key ASC").
		Scan(&latest).Error; err != nil {
		return nil, err
	}

	out := make([]ObjectVersion, 0, len(latest))
	for _, l := range latest {
		var row ObjectVersion
		if err := o.db.WithContext(ctx).
			Where("orbit_id = ? AND user_key = ? AND version_seq = ?", orbitID, l.UserKey, l.MaxSeq).
			First(&row).Error; err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
