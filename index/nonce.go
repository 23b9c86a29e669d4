package index

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NonceStore struct{ db *gorm.DB }

func (n *NonceStore) Seen(ctx context.Context, orbitID, nonce string) (bool, error) {
	var row NonceSeen
	err := n.db.WithContext(ctx).First(&row, "orbit_id = ? AND nonce = ?", orbitID, nonce).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// Mark inserts orbitID/nonce, tolerating a concurrent duplicate insert as a
// no-op rather than an error: the row's mere existence is what matters
// (§5 "the nonce table is write-contended per orbit; row-level locking is
// sufficient because nonces are unique").
func (n *NonceStore) Mark(ctx context.Context, orbitID, nonce string) error {
	row := NonceSeen{OrbitID: orbitID, Nonce: nonce, SeenAt: time.Now().UTC()}
	return n.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}
