package index

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound wraps gorm.ErrRecordNotFound so callers outside this package
// never depend on gorm directly.
var ErrNotFound = errors.New("index: not found")

type OrbitStore struct{ db *gorm.DB }

// GetOrCreate opens the orbit row for id, creating it (with controllerDID as
// its controller) the first time a root delegation for id is accepted
// (§3 "Orbits are created when a first root delegation … is accepted").
// Callers must only call this once the accompanying root capability has
// fully passed capability.Engine.VerifyRoot — calling it speculatively,
// before verification, lets an unverified (or outright forged) request
// permanently squat an unclaimed orbit ID under its own claimed DID.
func (s *OrbitStore) GetOrCreate(ctx context.Context, id, controllerDID string) (*Orbit, error) {
	var o Orbit
	err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	o = Orbit{ID: id, ControllerDID: controllerDID}
	if err := s.db.WithContext(ctx).Create(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *OrbitStore) Get(ctx context.Context, id string) (*Orbit, error) {
	var o Orbit
	if err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}
