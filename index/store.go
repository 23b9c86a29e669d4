package index

import (
	"context"

	"gorm.io/gorm"
)

// Store is the transactional handle onto the index schema. Object puts and
// deletes and gc.Collector.SweepOrbit run their index writes on a *Store
// bound to a transaction via WithTx. Orbit row creation (orbit.Manager),
// capability inserts and revocations, and nonce marks write through the
// plain handle, each statement on its own, without a surrounding
// transaction.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

// WithTx runs fn inside a single SQL transaction, matching gorm's standard
// begin/commit/rollback pattern.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

func (s *Store) Orbits() *OrbitStore           { return &OrbitStore{db: s.DB} }
func (s *Store) Capabilities() *CapabilityStore { return &CapabilityStore{db: s.DB} }
func (s *Store) Objects() *ObjectStore         { return &ObjectStore{db: s.DB} }
func (s *Store) Pins() *PinStore               { return &PinStore{db: s.DB} }
func (s *Store) Nonces() *NonceStore           { return &NonceStore{db: s.DB} }
