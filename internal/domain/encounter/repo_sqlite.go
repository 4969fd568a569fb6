package encounter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteSchema creates the tables used by the SQLite backend. Ids are
// text, times are UTC unix microseconds and flags are 0/1 integers so that
// comparisons and ORDER BY behave like the PostgreSQL schema.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS location (
    id          TEXT PRIMARY KEY,
    guid        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    retired     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS encounter_type (
    id          TEXT PRIMARY KEY,
    guid        TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    description TEXT,
    retired     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounter_type_name ON encounter_type (name);

CREATE TABLE IF NOT EXISTS encounter (
    id                  TEXT PRIMARY KEY,
    guid                TEXT NOT NULL UNIQUE,
    patient_id          TEXT NOT NULL,
    location_id         TEXT REFERENCES location (id),
    form_id             TEXT,
    encounter_type_id   TEXT REFERENCES encounter_type (id),
    encounter_datetime  INTEGER NOT NULL,
    voided              INTEGER NOT NULL DEFAULT 0,
    void_reason         TEXT,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounter_patient_datetime ON encounter (patient_id, encounter_datetime);
CREATE INDEX IF NOT EXISTS idx_encounter_datetime ON encounter (encounter_datetime);
`

type repoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepo returns a Repository on a database opened with
// sqlitedb.Open and SQLiteSchema applied.
func NewSQLiteRepo(db *sql.DB) Repository {
	return &repoSQLite{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *repoSQLite) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := r.db.ExecContext(ctx, query, sqliteArgs(args)...)
	return err
}

func sqliteArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = sqliteArg(a)
	}
	return out
}

func (r *repoSQLite) SaveEncounter(ctx context.Context, enc *Encounter) error {
	enc.prepare(r.now())
	var created int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO encounter (
			id, guid, patient_id, location_id, form_id, encounter_type_id,
			encounter_datetime, voided, void_reason, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			guid=excluded.guid, patient_id=excluded.patient_id, location_id=excluded.location_id,
			form_id=excluded.form_id, encounter_type_id=excluded.encounter_type_id,
			encounter_datetime=excluded.encounter_datetime, voided=excluded.voided,
			void_reason=excluded.void_reason, updated_at=excluded.updated_at
		RETURNING created_at`,
		sqliteArgs([]interface{}{
			enc.ID, enc.GUID, enc.PatientID, enc.LocationID, enc.FormID, enc.EncounterTypeID,
			enc.EncounterDatetime, enc.Voided, enc.VoidReason, enc.CreatedAt, enc.UpdatedAt,
		})...,
	).Scan(&created)
	if err != nil {
		return writeErr("save encounter", err, sqliteConflict)
	}
	enc.CreatedAt = fromUnixMicro(created)
	return nil
}

func (r *repoSQLite) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEncSQLite(r.db.QueryRowContext(ctx, `SELECT `+encCols+` FROM encounter WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get encounter", err)
	}
	return enc, nil
}

func (r *repoSQLite) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	if err := r.exec(ctx, `DELETE FROM encounter WHERE id = ?`, id); err != nil {
		return storeErr("delete encounter", err)
	}
	return nil
}

func (r *repoSQLite) FindEncounters(ctx context.Context, q Query) ([]*Encounter, error) {
	query, args := sqliteDialect.compile("encounter", encCols, q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("find encounters", err)
	}
	defer rows.Close()

	encs := []*Encounter{}
	for rows.Next() {
		e, err := scanEncSQLite(rows)
		if err != nil {
			return nil, storeErr("find encounters", err)
		}
		encs = append(encs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find encounters", err)
	}
	return encs, nil
}

func (r *repoSQLite) GetSavedEncounterDatetime(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT encounter_datetime FROM encounter WHERE id = ?`, id.String()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get saved encounter datetime", err)
	}
	t := fromUnixMicro(n)
	return &t, nil
}

func (r *repoSQLite) SaveEncounterType(ctx context.Context, et *EncounterType) error {
	et.prepare(r.now())
	var created int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO encounter_type (id, guid, name, description, retired, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			guid=excluded.guid, name=excluded.name, description=excluded.description,
			retired=excluded.retired, updated_at=excluded.updated_at
		RETURNING created_at`,
		sqliteArgs([]interface{}{
			et.ID, et.GUID, et.Name, et.Description, et.Retired, et.CreatedAt, et.UpdatedAt,
		})...,
	).Scan(&created)
	if err != nil {
		return writeErr("save encounter type", err, sqliteConflict)
	}
	et.CreatedAt = fromUnixMicro(created)
	return nil
}

func (r *repoSQLite) GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	et, err := scanTypeSQLite(r.db.QueryRowContext(ctx, `SELECT `+typeCols+` FROM encounter_type WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get encounter type", err)
	}
	return et, nil
}

func (r *repoSQLite) DeleteEncounterType(ctx context.Context, id uuid.UUID) error {
	if err := r.exec(ctx, `DELETE FROM encounter_type WHERE id = ?`, id); err != nil {
		return writeErr("delete encounter type", err, sqliteConflict)
	}
	return nil
}

func (r *repoSQLite) FindEncounterTypes(ctx context.Context, q Query) ([]*EncounterType, error) {
	query, args := sqliteDialect.compile("encounter_type", typeCols, q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("find encounter types", err)
	}
	defer rows.Close()

	types := []*EncounterType{}
	for rows.Next() {
		et, err := scanTypeSQLite(rows)
		if err != nil {
			return nil, storeErr("find encounter types", err)
		}
		types = append(types, et)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find encounter types", err)
	}
	return types, nil
}

func (r *repoSQLite) SaveLocation(ctx context.Context, loc *Location) error {
	loc.prepare(r.now())
	var created int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO location (id, guid, name, retired, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			guid=excluded.guid, name=excluded.name, retired=excluded.retired,
			updated_at=excluded.updated_at
		RETURNING created_at`,
		sqliteArgs([]interface{}{
			loc.ID, loc.GUID, loc.Name, loc.Retired, loc.CreatedAt, loc.UpdatedAt,
		})...,
	).Scan(&created)
	if err != nil {
		return writeErr("save location", err, sqliteConflict)
	}
	loc.CreatedAt = fromUnixMicro(created)
	return nil
}

func (r *repoSQLite) FindLocations(ctx context.Context, q Query) ([]*Location, error) {
	query, args := sqliteDialect.compile("location", locCols, q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("find locations", err)
	}
	defer rows.Close()

	locs := []*Location{}
	for rows.Next() {
		var (
			l                Location
			id               string
			created, updated int64
		)
		if err := rows.Scan(&id, &l.GUID, &l.Name, &l.Retired, &created, &updated); err != nil {
			return nil, storeErr("find locations", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, storeErr("find locations", err)
		}
		l.CreatedAt = fromUnixMicro(created)
		l.UpdatedAt = fromUnixMicro(updated)
		locs = append(locs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find locations", err)
	}
	return locs, nil
}

func scanEncSQLite(row rowScanner) (*Encounter, error) {
	var (
		e                          Encounter
		id, patient                string
		location, form, encType    sql.NullString
		voidReason                 sql.NullString
		datetime, created, updated int64
	)
	err := row.Scan(&id, &e.GUID, &patient, &location, &form, &encType,
		&datetime, &e.Voided, &voidReason, &created, &updated)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("encounter id: %w", err)
	}
	if e.PatientID, err = uuid.Parse(patient); err != nil {
		return nil, fmt.Errorf("encounter patient_id: %w", err)
	}
	if e.LocationID, err = nullUUID(location); err != nil {
		return nil, fmt.Errorf("encounter location_id: %w", err)
	}
	if e.FormID, err = nullUUID(form); err != nil {
		return nil, fmt.Errorf("encounter form_id: %w", err)
	}
	if e.EncounterTypeID, err = nullUUID(encType); err != nil {
		return nil, fmt.Errorf("encounter encounter_type_id: %w", err)
	}
	if voidReason.Valid {
		s := voidReason.String
		e.VoidReason = &s
	}
	e.EncounterDatetime = fromUnixMicro(datetime)
	e.CreatedAt = fromUnixMicro(created)
	e.UpdatedAt = fromUnixMicro(updated)
	return &e, nil
}

func scanTypeSQLite(row rowScanner) (*EncounterType, error) {
	var (
		t                EncounterType
		id               string
		desc             sql.NullString
		created, updated int64
	)
	if err := row.Scan(&id, &t.GUID, &t.Name, &desc, &t.Retired, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("encounter type id: %w", err)
	}
	if desc.Valid {
		s := desc.String
		t.Description = &s
	}
	t.CreatedAt = fromUnixMicro(created)
	t.UpdatedAt = fromUnixMicro(updated)
	return &t, nil
}

func nullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// fromUnixMicro reverses sqliteArg's time encoding.
func fromUnixMicro(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

func sqliteConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
