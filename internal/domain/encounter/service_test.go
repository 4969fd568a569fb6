package encounter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

// mockRepo returns canned rows and errors for every call.
type mockRepo struct {
	err        error
	encounters []*Encounter
	types      []*EncounterType
	locations  []*Location
	lastQuery  Query
}

func (m *mockRepo) SaveEncounter(context.Context, *Encounter) error { return m.err }
func (m *mockRepo) GetEncounter(context.Context, uuid.UUID) (*Encounter, error) {
	if len(m.encounters) > 0 {
		return m.encounters[0], m.err
	}
	return nil, m.err
}
func (m *mockRepo) DeleteEncounter(context.Context, uuid.UUID) error { return m.err }
func (m *mockRepo) FindEncounters(_ context.Context, q Query) ([]*Encounter, error) {
	m.lastQuery = q
	return m.encounters, m.err
}
func (m *mockRepo) GetSavedEncounterDatetime(context.Context, uuid.UUID) (*time.Time, error) {
	return nil, m.err
}
func (m *mockRepo) SaveEncounterType(context.Context, *EncounterType) error { return m.err }
func (m *mockRepo) GetEncounterType(context.Context, uuid.UUID) (*EncounterType, error) {
	return nil, m.err
}
func (m *mockRepo) DeleteEncounterType(context.Context, uuid.UUID) error { return m.err }
func (m *mockRepo) FindEncounterTypes(_ context.Context, q Query) ([]*EncounterType, error) {
	m.lastQuery = q
	return m.types, m.err
}
func (m *mockRepo) SaveLocation(context.Context, *Location) error { return m.err }
func (m *mockRepo) FindLocations(_ context.Context, q Query) ([]*Location, error) {
	m.lastQuery = q
	return m.locations, m.err
}

func newTestService() *Service {
	return NewService(NewMemoryRepo(), zerolog.Nop())
}

// -- Encounters --

func TestService_SaveEncounter(t *testing.T) {
	svc := newTestService()
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	enc := &Encounter{PatientID: uuid.New()}
	if err := svc.SaveEncounter(context.Background(), enc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if enc.GUID != enc.ID.String() {
		t.Errorf("expected GUID to default to id, got %q", enc.GUID)
	}
	if !enc.EncounterDatetime.Equal(fixed) {
		t.Errorf("expected encounter datetime to default to now, got %v", enc.EncounterDatetime)
	}
}

func TestService_SaveEncounter_PatientRequired(t *testing.T) {
	svc := newTestService()
	err := svc.SaveEncounter(context.Background(), &Encounter{})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestService_SaveEncounter_ClearsVoidReasonWhenNotVoided(t *testing.T) {
	svc := newTestService()
	reason := "duplicate"
	enc := &Encounter{PatientID: uuid.New(), VoidReason: &reason}
	if err := svc.SaveEncounter(context.Background(), enc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.VoidReason != nil {
		t.Error("expected void reason to be cleared")
	}
}

func TestService_SaveThenGetRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	loc, form, encType := uuid.New(), uuid.New(), uuid.New()
	enc := &Encounter{
		PatientID:         uuid.New(),
		LocationID:        &loc,
		FormID:            &form,
		EncounterTypeID:   &encType,
		EncounterDatetime: time.Date(2021, 7, 4, 10, 15, 30, 123456789, time.FixedZone("EST", -5*3600)),
	}
	if err := svc.SaveEncounter(ctx, enc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := svc.GetEncounter(ctx, enc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(enc, got); diff != "" {
		t.Errorf("round trip (-saved +got):\n%s", diff)
	}
}

func TestService_GetEncountersByPatientID(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	patient := uuid.New()

	e1 := &Encounter{PatientID: patient, EncounterDatetime: date(2020, 1, 1)}
	e2 := &Encounter{PatientID: patient, EncounterDatetime: date(2020, 2, 1), Voided: true}
	e3 := &Encounter{PatientID: patient, EncounterDatetime: date(2020, 3, 1)}
	for _, e := range []*Encounter{e1, e2, e3} {
		if err := svc.SaveEncounter(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := svc.GetEncountersByPatientID(ctx, patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]uuid.UUID{e3.ID, e1.ID}, ids(got)); diff != "" {
		t.Errorf("by patient (-want +got):\n%s", diff)
	}

	all, err := svc.GetEncounters(ctx, SearchFilter{Patient: &Ref{ID: patient}, IncludeVoided: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]uuid.UUID{e1.ID, e2.ID, e3.ID}, ids(all)); diff != "" {
		t.Errorf("search (-want +got):\n%s", diff)
	}
}

func TestService_GetEncounters_EmptyIsNotNil(t *testing.T) {
	svc := NewService(&mockRepo{}, zerolog.Nop())
	got, err := svc.GetEncounters(context.Background(), SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Error("expected empty non-nil slice")
	}
}

func TestService_GetEncounters_PassesBuiltQuery(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	f := SearchFilter{Patient: &Ref{ID: uuid.New()}}
	svc.GetEncounters(context.Background(), f)

	want := BuildSearchQuery(f)
	if diff := cmp.Diff(want.Predicates(), repo.lastQuery.Predicates()); diff != "" {
		t.Errorf("query (-want +got):\n%s", diff)
	}
}

func TestService_StoreFailureIsDistinctFromEmpty(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockRepo{err: storeErr("find encounters", errors.New("connection refused"))}
	svc := NewService(repo, zerolog.New(&buf))

	got, err := svc.GetEncounters(context.Background(), SearchFilter{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result on failure, got %v", got)
	}
	if !strings.Contains(buf.String(), "record store failure") {
		t.Errorf("expected store failure to be logged, got %q", buf.String())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
}

func TestService_GetEncounterByGUID(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	enc := &Encounter{PatientID: uuid.New(), GUID: "enc-guid-1"}
	svc.SaveEncounter(ctx, enc)

	got, err := svc.GetEncounterByGUID(ctx, "enc-guid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != enc.ID {
		t.Errorf("expected encounter %s, got %v", enc.ID, got)
	}

	missing, err := svc.GetEncounterByGUID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestService_GetSavedEncounterDatetime(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	enc := &Encounter{PatientID: uuid.New(), EncounterDatetime: date(2020, 1, 1)}
	svc.SaveEncounter(ctx, enc)

	enc.EncounterDatetime = date(2022, 1, 1)
	saved, err := svc.GetSavedEncounterDatetime(ctx, enc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil || !saved.Equal(date(2020, 1, 1)) {
		t.Errorf("expected stored datetime 2020-01-01, got %v", saved)
	}
}

func TestService_DeleteEncounter(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	enc := &Encounter{PatientID: uuid.New()}
	svc.SaveEncounter(ctx, enc)

	if err := svc.DeleteEncounter(ctx, enc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.GetEncounter(ctx, enc.ID)
	if got != nil {
		t.Error("expected encounter to be deleted")
	}
}

// -- Encounter types --

func TestService_SaveEncounterType_NameRequired(t *testing.T) {
	svc := newTestService()
	err := svc.SaveEncounterType(context.Background(), &EncounterType{Name: "   "})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestService_FindEncounterTypes_CaseInsensitivePrefix(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, name := range []string{"Checkup", "Admission", "CHECK-IN"} {
		svc.SaveEncounterType(ctx, &EncounterType{Name: name})
	}

	got, err := svc.FindEncounterTypes(ctx, "check")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"CHECK-IN", "Checkup"}, typeNames(got)); diff != "" {
		t.Errorf("prefix (-want +got):\n%s", diff)
	}
}

func TestService_GetEncounterTypeByName(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.SaveEncounterType(ctx, &EncounterType{Name: "Checkup"})
	svc.SaveEncounterType(ctx, &EncounterType{Name: "Legacy", Retired: true})

	got, err := svc.GetEncounterTypeByName(ctx, "Checkup")
	if err != nil || got == nil || got.Name != "Checkup" {
		t.Errorf("expected Checkup, got (%v, %v)", got, err)
	}

	retired, err := svc.GetEncounterTypeByName(ctx, "Legacy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retired != nil {
		t.Error("expected retired type to be not found")
	}

	partial, _ := svc.GetEncounterTypeByName(ctx, "check")
	if partial != nil {
		t.Error("name lookup must be exact")
	}
}

func TestService_GetEncounterTypeByName_Ambiguous(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockRepo{types: []*EncounterType{{Name: "Checkup"}, {Name: "Checkup"}}}
	svc := NewService(repo, zerolog.New(&buf))

	got, err := svc.GetEncounterTypeByName(context.Background(), "Checkup")
	if !errors.Is(err, ErrAmbiguousResult) {
		t.Fatalf("expected ErrAmbiguousResult, got %v", err)
	}
	if got != nil {
		t.Error("ambiguous lookups must not pick a row")
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected a warning to be logged, got %q", buf.String())
	}
}

func TestService_GetAllEncounterTypes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, et := range []*EncounterType{
		{Name: "Vitals"}, {Name: "Admission"}, {Name: "Legacy", Retired: true},
	} {
		svc.SaveEncounterType(ctx, et)
	}

	active, err := svc.GetAllEncounterTypes(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"Admission", "Vitals"}, typeNames(active)); diff != "" {
		t.Errorf("active (-want +got):\n%s", diff)
	}

	retired, _ := svc.GetAllEncounterTypes(ctx, true)
	if diff := cmp.Diff([]string{"Legacy"}, typeNames(retired)); diff != "" {
		t.Errorf("retired (-want +got):\n%s", diff)
	}
}

func TestService_EncounterTypeByGUIDAndDelete(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	et := &EncounterType{Name: "Triage", GUID: "type-guid"}
	svc.SaveEncounterType(ctx, et)

	got, err := svc.GetEncounterTypeByGUID(ctx, "type-guid")
	if err != nil || got == nil || got.ID != et.ID {
		t.Fatalf("expected type by guid, got (%v, %v)", got, err)
	}
	if err := svc.DeleteEncounterType(ctx, et.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	gone, _ := svc.GetEncounterType(ctx, et.ID)
	if gone != nil {
		t.Error("expected type to be deleted")
	}
}

// -- Locations --

func TestService_Locations(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.SaveLocation(ctx, &Location{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank name, got %v", err)
	}

	loc := &Location{Name: "Outpatient Clinic", GUID: "loc-guid"}
	if err := svc.SaveLocation(ctx, loc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := svc.GetLocationByGUID(ctx, "loc-guid")
	if err != nil || got == nil || got.Name != "Outpatient Clinic" {
		t.Errorf("expected location, got (%v, %v)", got, err)
	}
}

func TestService_GetLocationByGUID_Ambiguous(t *testing.T) {
	repo := &mockRepo{locations: []*Location{{Name: "A"}, {Name: "B"}}}
	svc := NewService(repo, zerolog.Nop())
	_, err := svc.GetLocationByGUID(context.Background(), "dup")
	if !errors.Is(err, ErrAmbiguousResult) {
		t.Fatalf("expected ErrAmbiguousResult, got %v", err)
	}
}
