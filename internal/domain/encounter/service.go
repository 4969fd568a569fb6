package encounter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  logger.With().Str("component", "encounter").Logger(),
		now:  time.Now,
	}
}

// observe logs store failures, ambiguous lookups and rejected writes and
// returns err unchanged.
func (s *Service) observe(op string, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		s.log.Error().Err(err).Str("op", op).Msg("record store failure")
	case errors.Is(err, ErrAmbiguousResult):
		s.log.Warn().Err(err).Str("op", op).Msg("unique lookup matched several rows")
	case errors.Is(err, ErrConflict):
		s.log.Warn().Err(err).Str("op", op).Msg("write rejected by a record reference")
	}
	return err
}

// -- Encounters --

// SaveEncounter inserts enc when its id is nil and updates it otherwise.
// A zero encounter datetime is set to now.
func (s *Service) SaveEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return invalid("patient_id is required")
	}
	if enc.EncounterDatetime.IsZero() {
		enc.EncounterDatetime = s.now()
	}
	if !enc.Voided {
		enc.VoidReason = nil
	}
	return s.observe("save_encounter", s.repo.SaveEncounter(ctx, enc))
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetEncounter(ctx, id)
	return enc, s.observe("get_encounter", err)
}

func (s *Service) GetEncounterByGUID(ctx context.Context, guid string) (*Encounter, error) {
	encs, err := s.repo.FindEncounters(ctx, GUIDQuery(guid))
	if err != nil {
		return nil, s.observe("get_encounter_by_guid", err)
	}
	enc, err := unique("encounter guid "+guid, encs)
	return enc, s.observe("get_encounter_by_guid", err)
}

// GetEncounters returns the encounters matching f, oldest first.
func (s *Service) GetEncounters(ctx context.Context, f SearchFilter) ([]*Encounter, error) {
	encs, err := s.repo.FindEncounters(ctx, BuildSearchQuery(f))
	if err != nil {
		return nil, s.observe("get_encounters", err)
	}
	if encs == nil {
		encs = []*Encounter{}
	}
	return encs, nil
}

// GetEncountersByPatientID returns the patient's non-voided encounters,
// newest first.
func (s *Service) GetEncountersByPatientID(ctx context.Context, patientID uuid.UUID) ([]*Encounter, error) {
	encs, err := s.repo.FindEncounters(ctx, PatientEncountersQuery(patientID))
	if err != nil {
		return nil, s.observe("get_encounters_by_patient", err)
	}
	if encs == nil {
		encs = []*Encounter{}
	}
	return encs, nil
}

// GetSavedEncounterDatetime returns the datetime currently stored for the
// encounter, which may differ from an edited copy held by the caller.
func (s *Service) GetSavedEncounterDatetime(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	t, err := s.repo.GetSavedEncounterDatetime(ctx, id)
	return t, s.observe("get_saved_encounter_datetime", err)
}

func (s *Service) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	return s.observe("delete_encounter", s.repo.DeleteEncounter(ctx, id))
}

// -- Encounter types --

func (s *Service) SaveEncounterType(ctx context.Context, et *EncounterType) error {
	et.Name = strings.TrimSpace(et.Name)
	if et.Name == "" {
		return invalid("name is required")
	}
	return s.observe("save_encounter_type", s.repo.SaveEncounterType(ctx, et))
}

func (s *Service) GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	et, err := s.repo.GetEncounterType(ctx, id)
	return et, s.observe("get_encounter_type", err)
}

func (s *Service) GetEncounterTypeByGUID(ctx context.Context, guid string) (*EncounterType, error) {
	types, err := s.repo.FindEncounterTypes(ctx, GUIDQuery(guid))
	if err != nil {
		return nil, s.observe("get_encounter_type_by_guid", err)
	}
	et, err := unique("encounter type guid "+guid, types)
	return et, s.observe("get_encounter_type_by_guid", err)
}

// GetEncounterTypeByName returns the non-retired type with exactly this
// name. Retired types are never returned.
func (s *Service) GetEncounterTypeByName(ctx context.Context, name string) (*EncounterType, error) {
	types, err := s.repo.FindEncounterTypes(ctx, EncounterTypeNameQuery(name))
	if err != nil {
		return nil, s.observe("get_encounter_type_by_name", err)
	}
	et, err := unique("encounter type name "+name, types)
	return et, s.observe("get_encounter_type_by_name", err)
}

// GetAllEncounterTypes returns the types whose retired flag equals
// includeRetired, by name.
func (s *Service) GetAllEncounterTypes(ctx context.Context, includeRetired bool) ([]*EncounterType, error) {
	types, err := s.repo.FindEncounterTypes(ctx, EncounterTypesQuery(includeRetired))
	if err != nil {
		return nil, s.observe("get_all_encounter_types", err)
	}
	if types == nil {
		types = []*EncounterType{}
	}
	return types, nil
}

// FindEncounterTypes returns the types whose name starts with prefix,
// ignoring case, by name.
func (s *Service) FindEncounterTypes(ctx context.Context, prefix string) ([]*EncounterType, error) {
	types, err := s.repo.FindEncounterTypes(ctx, EncounterTypePrefixQuery(prefix))
	if err != nil {
		return nil, s.observe("find_encounter_types", err)
	}
	if types == nil {
		types = []*EncounterType{}
	}
	return types, nil
}

func (s *Service) DeleteEncounterType(ctx context.Context, id uuid.UUID) error {
	return s.observe("delete_encounter_type", s.repo.DeleteEncounterType(ctx, id))
}

// -- Locations --

func (s *Service) SaveLocation(ctx context.Context, loc *Location) error {
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Name == "" {
		return invalid("name is required")
	}
	return s.observe("save_location", s.repo.SaveLocation(ctx, loc))
}

func (s *Service) GetLocationByGUID(ctx context.Context, guid string) (*Location, error) {
	locs, err := s.repo.FindLocations(ctx, GUIDQuery(guid))
	if err != nil {
		return nil, s.observe("get_location_by_guid", err)
	}
	loc, err := unique("location guid "+guid, locs)
	return loc, s.observe("get_location_by_guid", err)
}
