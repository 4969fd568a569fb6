package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Ref identifies a referenced record (patient, location, form, encounter
// type) by id only.
type Ref struct {
	ID uuid.UUID `json:"id"`
}

// Encounter maps to the encounter table.
type Encounter struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	GUID              string     `db:"guid" json:"guid"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	LocationID        *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	FormID            *uuid.UUID `db:"form_id" json:"form_id,omitempty"`
	EncounterTypeID   *uuid.UUID `db:"encounter_type_id" json:"encounter_type_id,omitempty"`
	EncounterDatetime time.Time  `db:"encounter_datetime" json:"encounter_datetime"`
	Voided            bool       `db:"voided" json:"voided"`
	VoidReason        *string    `db:"void_reason" json:"void_reason,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// EncounterType maps to the encounter_type table.
type EncounterType struct {
	ID          uuid.UUID `db:"id" json:"id"`
	GUID        string    `db:"guid" json:"guid"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Retired     bool      `db:"retired" json:"retired"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Location maps to the location table. Only the GUID lookup reads it.
type Location struct {
	ID        uuid.UUID `db:"id" json:"id"`
	GUID      string    `db:"guid" json:"guid"`
	Name      string    `db:"name" json:"name"`
	Retired   bool      `db:"retired" json:"retired"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// storeTime normalizes t to what every backend can hold: UTC with
// microsecond precision (the PostgreSQL timestamptz resolution).
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// identify assigns a fresh id when the record has none and defaults the
// GUID to the id. It reports whether the record is new.
func identify(id *uuid.UUID, guid *string) bool {
	isNew := *id == uuid.Nil
	if isNew {
		*id = uuid.New()
	}
	if *guid == "" {
		*guid = id.String()
	}
	return isNew
}

func (e *Encounter) prepare(now time.Time) {
	identify(&e.ID, &e.GUID)
	e.EncounterDatetime = storeTime(e.EncounterDatetime)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = storeTime(e.CreatedAt)
	e.UpdatedAt = storeTime(now)
}

func (t *EncounterType) prepare(now time.Time) {
	identify(&t.ID, &t.GUID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.CreatedAt = storeTime(t.CreatedAt)
	t.UpdatedAt = storeTime(now)
}

func (l *Location) prepare(now time.Time) {
	identify(&l.ID, &l.GUID)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.CreatedAt = storeTime(l.CreatedAt)
	l.UpdatedAt = storeTime(now)
}

// field returns the value of f for predicate evaluation. Unset references
// come back as nil so they never equal a filter id.
func (e *Encounter) field(f Field) interface{} {
	switch f {
	case FieldID:
		return e.ID
	case FieldGUID:
		return e.GUID
	case FieldPatient:
		return e.PatientID
	case FieldLocation:
		return optionalID(e.LocationID)
	case FieldForm:
		return optionalID(e.FormID)
	case FieldEncounterType:
		return optionalID(e.EncounterTypeID)
	case FieldEncounterDatetime:
		return e.EncounterDatetime
	case FieldVoided:
		return e.Voided
	}
	return nil
}

func (t *EncounterType) field(f Field) interface{} {
	switch f {
	case FieldID:
		return t.ID
	case FieldGUID:
		return t.GUID
	case FieldName:
		return t.Name
	case FieldRetired:
		return t.Retired
	}
	return nil
}

func (l *Location) field(f Field) interface{} {
	switch f {
	case FieldID:
		return l.ID
	case FieldGUID:
		return l.GUID
	case FieldName:
		return l.Name
	case FieldRetired:
		return l.Retired
	}
	return nil
}

func optionalID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
