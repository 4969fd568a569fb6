package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the record store the service runs on. Lookups by id return
// (nil, nil) when nothing matches. Find methods return rows in the query's
// sort order and an empty slice when nothing matches. Every store failure
// wraps ErrStoreUnavailable.
type Repository interface {
	// SaveEncounter inserts enc, or replaces the stored row with the same
	// id. A nil id is assigned before insert.
	SaveEncounter(ctx context.Context, enc *Encounter) error
	GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
	DeleteEncounter(ctx context.Context, id uuid.UUID) error
	FindEncounters(ctx context.Context, q Query) ([]*Encounter, error)
	// GetSavedEncounterDatetime reads the stored datetime of an encounter
	// directly from the store.
	GetSavedEncounterDatetime(ctx context.Context, id uuid.UUID) (*time.Time, error)

	SaveEncounterType(ctx context.Context, et *EncounterType) error
	GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error)
	DeleteEncounterType(ctx context.Context, id uuid.UUID) error
	FindEncounterTypes(ctx context.Context, q Query) ([]*EncounterType, error)

	SaveLocation(ctx context.Context, loc *Location) error
	FindLocations(ctx context.Context, q Query) ([]*Location, error)
}
