package encounter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/encounters/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepo returns a PostgreSQL Repository. Statements run on the
// transaction or connection carried by ctx, falling back to the pool.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool, now: time.Now}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const encCols = `id, guid, patient_id, location_id, form_id, encounter_type_id,
	encounter_datetime, voided, void_reason, created_at, updated_at`

const typeCols = `id, guid, name, description, retired, created_at, updated_at`

const locCols = `id, guid, name, retired, created_at, updated_at`

func (r *repoPG) SaveEncounter(ctx context.Context, enc *Encounter) error {
	enc.prepare(r.now())
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (
			id, guid, patient_id, location_id, form_id, encounter_type_id,
			encounter_datetime, voided, void_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			guid=EXCLUDED.guid, patient_id=EXCLUDED.patient_id, location_id=EXCLUDED.location_id,
			form_id=EXCLUDED.form_id, encounter_type_id=EXCLUDED.encounter_type_id,
			encounter_datetime=EXCLUDED.encounter_datetime, voided=EXCLUDED.voided,
			void_reason=EXCLUDED.void_reason, updated_at=EXCLUDED.updated_at
		RETURNING created_at`,
		enc.ID, enc.GUID, enc.PatientID, enc.LocationID, enc.FormID, enc.EncounterTypeID,
		enc.EncounterDatetime, enc.Voided, enc.VoidReason, enc.CreatedAt, enc.UpdatedAt,
	).Scan(&enc.CreatedAt)
	if err != nil {
		return writeErr("save encounter", err, pgConflict)
	}
	return nil
}

func (r *repoPG) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get encounter", err)
	}
	return enc, nil
}

func (r *repoPG) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter WHERE id = $1`, id); err != nil {
		return storeErr("delete encounter", err)
	}
	return nil
}

func (r *repoPG) FindEncounters(ctx context.Context, q Query) ([]*Encounter, error) {
	sql, args := pgDialect.compile("encounter", encCols, q)
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("find encounters", err)
	}
	defer rows.Close()
	encs, err := collectEncs(rows)
	if err != nil {
		return nil, storeErr("find encounters", err)
	}
	return encs, nil
}

func (r *repoPG) GetSavedEncounterDatetime(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	var t time.Time
	err := r.conn(ctx).QueryRow(ctx, `SELECT encounter_datetime FROM encounter WHERE id = $1`, id).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get saved encounter datetime", err)
	}
	t = t.UTC()
	return &t, nil
}

func (r *repoPG) SaveEncounterType(ctx context.Context, et *EncounterType) error {
	et.prepare(r.now())
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter_type (id, guid, name, description, retired, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			guid=EXCLUDED.guid, name=EXCLUDED.name, description=EXCLUDED.description,
			retired=EXCLUDED.retired, updated_at=EXCLUDED.updated_at
		RETURNING created_at`,
		et.ID, et.GUID, et.Name, et.Description, et.Retired, et.CreatedAt, et.UpdatedAt,
	).Scan(&et.CreatedAt)
	if err != nil {
		return writeErr("save encounter type", err, pgConflict)
	}
	return nil
}

func (r *repoPG) GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	et, err := scanType(r.conn(ctx).QueryRow(ctx, `SELECT `+typeCols+` FROM encounter_type WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get encounter type", err)
	}
	return et, nil
}

func (r *repoPG) DeleteEncounterType(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter_type WHERE id = $1`, id); err != nil {
		return writeErr("delete encounter type", err, pgConflict)
	}
	return nil
}

func (r *repoPG) FindEncounterTypes(ctx context.Context, q Query) ([]*EncounterType, error) {
	sql, args := pgDialect.compile("encounter_type", typeCols, q)
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("find encounter types", err)
	}
	defer rows.Close()

	types := []*EncounterType{}
	for rows.Next() {
		et, err := scanType(rows)
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

func (r *repoPG) SaveLocation(ctx context.Context, loc *Location) error {
	loc.prepare(r.now())
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO location (id, guid, name, retired, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			guid=EXCLUDED.guid, name=EXCLUDED.name, retired=EXCLUDED.retired,
			updated_at=EXCLUDED.updated_at
		RETURNING created_at`,
		loc.ID, loc.GUID, loc.Name, loc.Retired, loc.CreatedAt, loc.UpdatedAt,
	).Scan(&loc.CreatedAt)
	if err != nil {
		return writeErr("save location", err, pgConflict)
	}
	return nil
}

func (r *repoPG) FindLocations(ctx context.Context, q Query) ([]*Location, error) {
	sql, args := pgDialect.compile("location", locCols, q)
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("find locations", err)
	}
	defer rows.Close()

	locs := []*Location{}
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.GUID, &l.Name, &l.Retired, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, storeErr("find locations", err)
		}
		locs = append(locs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find locations", err)
	}
	return locs, nil
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.GUID, &e.PatientID, &e.LocationID, &e.FormID, &e.EncounterTypeID,
		&e.EncounterDatetime, &e.Voided, &e.VoidReason, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.EncounterDatetime = e.EncounterDatetime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func collectEncs(rows pgx.Rows) ([]*Encounter, error) {
	encs := []*Encounter{}
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, err
		}
		encs = append(encs, e)
	}
	return encs, rows.Err()
}

func scanType(row pgx.Row) (*EncounterType, error) {
	var t EncounterType
	if err := row.Scan(&t.ID, &t.GUID, &t.Name, &t.Description, &t.Retired, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// pgConflict reports SQLSTATE 23503 (foreign_key_violation) and 23505
// (unique_violation).
func pgConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" || pgErr.Code == "23505"
}
