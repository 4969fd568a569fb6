package encounter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ids(encs []*Encounter) []uuid.UUID {
	out := make([]uuid.UUID, len(encs))
	for i, e := range encs {
		out[i] = e.ID
	}
	return out
}

func typeNames(types []*EncounterType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	return out
}

// fixture is a small data set shared by every backend test.
type fixture struct {
	patient, otherPatient uuid.UUID
	loc1, loc2            *Location
	type1, type2          *EncounterType
	form1, form2          uuid.UUID
	e1, e2, e3, e4        *Encounter
}

// seed stores E1 (2020-01-01), E2 (2020-02-01, voided) and E3 (2020-03-01)
// for one patient plus E4 (2020-02-15) for another.
func seed(t *testing.T, repo Repository) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		patient:      uuid.New(),
		otherPatient: uuid.New(),
		loc1:         &Location{Name: "Ward A"},
		loc2:         &Location{Name: "Ward B"},
		type1:        &EncounterType{Name: "Checkup"},
		type2:        &EncounterType{Name: "Admission"},
		form1:        uuid.New(),
		form2:        uuid.New(),
	}
	for _, l := range []*Location{f.loc1, f.loc2} {
		if err := repo.SaveLocation(ctx, l); err != nil {
			t.Fatalf("save location: %v", err)
		}
	}
	for _, et := range []*EncounterType{f.type1, f.type2} {
		if err := repo.SaveEncounterType(ctx, et); err != nil {
			t.Fatalf("save encounter type: %v", err)
		}
	}

	reason := "entered in error"
	f.e1 = &Encounter{PatientID: f.patient, LocationID: &f.loc1.ID, FormID: &f.form1,
		EncounterTypeID: &f.type1.ID, EncounterDatetime: date(2020, 1, 1)}
	f.e2 = &Encounter{PatientID: f.patient, LocationID: &f.loc2.ID, FormID: &f.form2,
		EncounterTypeID: &f.type2.ID, EncounterDatetime: date(2020, 2, 1), Voided: true, VoidReason: &reason}
	f.e3 = &Encounter{PatientID: f.patient, LocationID: &f.loc1.ID, FormID: &f.form2,
		EncounterTypeID: &f.type1.ID, EncounterDatetime: date(2020, 3, 1)}
	f.e4 = &Encounter{PatientID: f.otherPatient, LocationID: &f.loc2.ID,
		EncounterDatetime: date(2020, 2, 15)}
	for _, e := range []*Encounter{f.e1, f.e2, f.e3, f.e4} {
		if err := repo.SaveEncounter(ctx, e); err != nil {
			t.Fatalf("save encounter: %v", err)
		}
	}
	return f
}

// testRepositoryContract exercises behavior every Repository must share.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("PatientEncountersDescendingWithoutVoided", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		got, err := repo.FindEncounters(context.Background(), PatientEncountersQuery(f.patient))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []uuid.UUID{f.e3.ID, f.e1.ID}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("by patient (-want +got):\n%s", diff)
		}
	})

	t.Run("SearchPatientIncludeVoidedAscending", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		q := BuildSearchQuery(SearchFilter{Patient: &Ref{ID: f.patient}, IncludeVoided: true})
		got, err := repo.FindEncounters(context.Background(), q)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []uuid.UUID{f.e1.ID, f.e2.ID, f.e3.ID}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("search (-want +got):\n%s", diff)
		}
	})

	t.Run("NoFiltersReturnsNonVoidedAscending", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		got, err := repo.FindEncounters(context.Background(), BuildSearchQuery(SearchFilter{}))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []uuid.UUID{f.e1.ID, f.e4.ID, f.e3.ID}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("search (-want +got):\n%s", diff)
		}
	})

	t.Run("FilterCombinations", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		all := []*Encounter{f.e1, f.e2, f.e3, f.e4}
		from, to := date(2020, 2, 1), date(2020, 3, 1)

		// Bit i toggles filter i; the expected set is computed directly.
		for mask := 0; mask < 1<<7; mask++ {
			var sf SearchFilter
			if mask&1 != 0 {
				sf.Patient = &Ref{ID: f.patient}
			}
			if mask&2 != 0 {
				sf.Location = &Ref{ID: f.loc1.ID}
			}
			if mask&4 != 0 {
				sf.From = &from
			}
			if mask&8 != 0 {
				sf.To = &to
			}
			if mask&16 != 0 {
				sf.Forms = []Ref{{ID: f.form2}}
			}
			if mask&32 != 0 {
				sf.EncounterTypes = []Ref{{ID: f.type1.ID}, {ID: f.type2.ID}}
			}
			sf.IncludeVoided = mask&64 != 0

			var want []uuid.UUID
			for _, e := range all {
				switch {
				case sf.Patient != nil && e.PatientID != f.patient,
					sf.Location != nil && (e.LocationID == nil || *e.LocationID != f.loc1.ID),
					sf.From != nil && e.EncounterDatetime.Before(from),
					sf.To != nil && e.EncounterDatetime.After(to),
					sf.Forms != nil && (e.FormID == nil || *e.FormID != f.form2),
					sf.EncounterTypes != nil && e.EncounterTypeID == nil,
					!sf.IncludeVoided && e.Voided:
					continue
				}
				want = append(want, e.ID)
			}
			if want == nil {
				want = []uuid.UUID{}
			}

			got, err := repo.FindEncounters(context.Background(), BuildSearchQuery(sf))
			if err != nil {
				t.Fatalf("mask %07b: %v", mask, err)
			}
			if diff := cmp.Diff(want, ids(got)); diff != "" {
				t.Errorf("mask %07b (-want +got):\n%s", mask, diff)
			}
		}
	})

	t.Run("InclusiveDateBounds", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		from, to := date(2020, 1, 1), date(2020, 3, 1)
		got, err := repo.FindEncounters(context.Background(), BuildSearchQuery(SearchFilter{
			Patient: &Ref{ID: f.patient}, From: &from, To: &to,
		}))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []uuid.UUID{f.e1.ID, f.e3.ID}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("bounds (-want +got):\n%s", diff)
		}
	})

	t.Run("DateBoundsOutsideNanosecondRange", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		from, to := date(1600, 1, 1), date(2500, 1, 1)
		got, err := repo.FindEncounters(context.Background(), BuildSearchQuery(SearchFilter{
			Patient: &Ref{ID: f.patient}, From: &from, To: &to,
		}))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		want := []uuid.UUID{f.e1.ID, f.e3.ID}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("wide bounds (-want +got):\n%s", diff)
		}
	})

	t.Run("EpochDatetimeRoundTrip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		epoch := time.Unix(0, 0).UTC()
		enc := &Encounter{PatientID: uuid.New(), EncounterDatetime: epoch}
		if err := repo.SaveEncounter(ctx, enc); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := repo.GetEncounter(ctx, enc.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil || !got.EncounterDatetime.Equal(epoch) {
			t.Fatalf("expected datetime %v, got %v", epoch, got)
		}

		from := epoch
		found, err := repo.FindEncounters(ctx, BuildSearchQuery(SearchFilter{
			Patient: &Ref{ID: enc.PatientID}, From: &from, To: &from,
		}))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]uuid.UUID{enc.ID}, ids(found)); diff != "" {
			t.Errorf("epoch bounds (-want +got):\n%s", diff)
		}
	})

	t.Run("EmptyResultIsNotAnError", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)
		got, err := repo.FindEncounters(context.Background(), PatientEncountersQuery(uuid.New()))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("SaveGetRoundTrip", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		ctx := context.Background()
		for _, want := range []*Encounter{f.e1, f.e2, f.e4} {
			got, err := repo.GetEncounter(ctx, want.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
		}
	})

	t.Run("SaveUpdatesExisting", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		ctx := context.Background()
		created := f.e1.CreatedAt

		moved := date(2021, 6, 1)
		f.e1.EncounterDatetime = moved
		f.e1.CreatedAt = time.Time{}
		if err := repo.SaveEncounter(ctx, f.e1); err != nil {
			t.Fatalf("update: %v", err)
		}
		if !f.e1.CreatedAt.Equal(created) {
			t.Errorf("expected created_at %v to survive update, got %v", created, f.e1.CreatedAt)
		}
		saved, err := repo.GetSavedEncounterDatetime(ctx, f.e1.ID)
		if err != nil {
			t.Fatalf("saved datetime: %v", err)
		}
		if saved == nil || !saved.Equal(moved) {
			t.Errorf("expected saved datetime %v, got %v", moved, saved)
		}
	})

	t.Run("MissingRowsAreNil", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		enc, err := repo.GetEncounter(ctx, uuid.New())
		if err != nil || enc != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", enc, err)
		}
		et, err := repo.GetEncounterType(ctx, uuid.New())
		if err != nil || et != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", et, err)
		}
		dt, err := repo.GetSavedEncounterDatetime(ctx, uuid.New())
		if err != nil || dt != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", dt, err)
		}
	})

	t.Run("DeleteEncounter", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		ctx := context.Background()
		if err := repo.DeleteEncounter(ctx, f.e3.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		got, err := repo.GetEncounter(ctx, f.e3.ID)
		if err != nil || got != nil {
			t.Errorf("expected deleted encounter to be gone, got (%v, %v)", got, err)
		}
	})

	t.Run("EncounterTypePrefixIgnoresCase", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)
		ctx := context.Background()
		repo.SaveEncounterType(ctx, &EncounterType{Name: "Check_in"})
		repo.SaveEncounterType(ctx, &EncounterType{Name: "Discharge"})

		got, err := repo.FindEncounterTypes(ctx, EncounterTypePrefixQuery("check"))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]string{"Check_in", "Checkup"}, typeNames(got)); diff != "" {
			t.Errorf("prefix (-want +got):\n%s", diff)
		}

		// LIKE wildcards in the prefix match literally.
		got, err = repo.FindEncounterTypes(ctx, EncounterTypePrefixQuery("check_"))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]string{"Check_in"}, typeNames(got)); diff != "" {
			t.Errorf("escaped prefix (-want +got):\n%s", diff)
		}
	})

	t.Run("EncounterTypesByRetiredFlag", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)
		ctx := context.Background()
		repo.SaveEncounterType(ctx, &EncounterType{Name: "Legacy", Retired: true})

		active, err := repo.FindEncounterTypes(ctx, EncounterTypesQuery(false))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]string{"Admission", "Checkup"}, typeNames(active)); diff != "" {
			t.Errorf("active (-want +got):\n%s", diff)
		}
		retired, err := repo.FindEncounterTypes(ctx, EncounterTypesQuery(true))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]string{"Legacy"}, typeNames(retired)); diff != "" {
			t.Errorf("retired (-want +got):\n%s", diff)
		}
	})

	t.Run("EncounterTypeNameExcludesRetired", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)
		ctx := context.Background()
		repo.SaveEncounterType(ctx, &EncounterType{Name: "Legacy", Retired: true})

		got, err := repo.FindEncounterTypes(ctx, EncounterTypeNameQuery("Legacy"))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected retired type to be excluded, got %v", typeNames(got))
		}
	})

	t.Run("GUIDLookups", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		ctx := context.Background()

		encs, err := repo.FindEncounters(ctx, GUIDQuery(f.e2.GUID))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]uuid.UUID{f.e2.ID}, ids(encs)); diff != "" {
			t.Errorf("encounter guid (-want +got):\n%s", diff)
		}

		types, err := repo.FindEncounterTypes(ctx, GUIDQuery(f.type2.GUID))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if diff := cmp.Diff([]string{"Admission"}, typeNames(types)); diff != "" {
			t.Errorf("type guid (-want +got):\n%s", diff)
		}

		locs, err := repo.FindLocations(ctx, GUIDQuery(f.loc2.GUID))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(locs) != 1 || locs[0].Name != "Ward B" {
			t.Errorf("expected Ward B, got %v", locs)
		}
	})

	t.Run("CanceledContextIsStoreFailure", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := repo.FindEncounters(ctx, BuildSearchQuery(SearchFilter{}))
		if err == nil {
			t.Skip("backend does not observe context cancellation")
		}
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}
