package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/encounters/internal/platform/metrics"
)

type instrumentedRepo struct {
	next    Repository
	backend string
}

// Instrument wraps next so every call is counted and timed under the given
// backend label.
func Instrument(next Repository, backend string) Repository {
	return &instrumentedRepo{next: next, backend: backend}
}

func (r *instrumentedRepo) SaveEncounter(ctx context.Context, enc *Encounter) error {
	start := time.Now()
	err := r.next.SaveEncounter(ctx, enc)
	metrics.ObserveStoreOp(r.backend, "save_encounter", start, err)
	return err
}

func (r *instrumentedRepo) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	start := time.Now()
	enc, err := r.next.GetEncounter(ctx, id)
	metrics.ObserveStoreOp(r.backend, "get_encounter", start, err)
	return enc, err
}

func (r *instrumentedRepo) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := r.next.DeleteEncounter(ctx, id)
	metrics.ObserveStoreOp(r.backend, "delete_encounter", start, err)
	return err
}

func (r *instrumentedRepo) FindEncounters(ctx context.Context, q Query) ([]*Encounter, error) {
	start := time.Now()
	encs, err := r.next.FindEncounters(ctx, q)
	metrics.ObserveStoreOp(r.backend, "find_encounters", start, err)
	return encs, err
}

func (r *instrumentedRepo) GetSavedEncounterDatetime(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	start := time.Now()
	t, err := r.next.GetSavedEncounterDatetime(ctx, id)
	metrics.ObserveStoreOp(r.backend, "get_saved_encounter_datetime", start, err)
	return t, err
}

func (r *instrumentedRepo) SaveEncounterType(ctx context.Context, et *EncounterType) error {
	start := time.Now()
	err := r.next.SaveEncounterType(ctx, et)
	metrics.ObserveStoreOp(r.backend, "save_encounter_type", start, err)
	return err
}

func (r *instrumentedRepo) GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	start := time.Now()
	et, err := r.next.GetEncounterType(ctx, id)
	metrics.ObserveStoreOp(r.backend, "get_encounter_type", start, err)
	return et, err
}

func (r *instrumentedRepo) DeleteEncounterType(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := r.next.DeleteEncounterType(ctx, id)
	metrics.ObserveStoreOp(r.backend, "delete_encounter_type", start, err)
	return err
}

func (r *instrumentedRepo) FindEncounterTypes(ctx context.Context, q Query) ([]*EncounterType, error) {
	start := time.Now()
	types, err := r.next.FindEncounterTypes(ctx, q)
	metrics.ObserveStoreOp(r.backend, "find_encounter_types", start, err)
	return types, err
}

func (r *instrumentedRepo) SaveLocation(ctx context.Context, loc *Location) error {
	start := time.Now()
	err := r.next.SaveLocation(ctx, loc)
	metrics.ObserveStoreOp(r.backend, "save_location", start, err)
	return err
}

func (r *instrumentedRepo) FindLocations(ctx context.Context, q Query) ([]*Location, error) {
	start := time.Now()
	locs, err := r.next.FindLocations(ctx, q)
	metrics.ObserveStoreOp(r.backend, "find_locations", start, err)
	return locs, err
}
