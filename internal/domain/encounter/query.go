package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Field names a filterable or sortable column. The value is the column
// name in every SQL backend.
type Field string

const (
	FieldID                Field = "id"
	FieldGUID              Field = "guid"
	FieldPatient           Field = "patient_id"
	FieldLocation          Field = "location_id"
	FieldForm              Field = "form_id"
	FieldEncounterType     Field = "encounter_type_id"
	FieldEncounterDatetime Field = "encounter_datetime"
	FieldVoided            Field = "voided"
	FieldName              Field = "name"
	FieldRetired           Field = "retired"
)

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpGte
	OpLte
	OpIn
	// OpPrefixFold is a case-insensitive starts-with match on a string.
	OpPrefixFold
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	case OpIn:
		return "IN"
	case OpPrefixFold:
		return "PREFIX"
	}
	return "?"
}

// Predicate is one condition. Value is used by every operator except OpIn,
// which uses Values.
type Predicate struct {
	Field  Field
	Op     Op
	Value  interface{}
	Values []interface{}
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Sort orders results by one field.
type Sort struct {
	Field Field
	Dir   Direction
}

// Query is an immutable conjunction of predicates plus a sort order. The
// zero Query matches every row in store order.
type Query struct {
	preds []Predicate
	sort  []Sort
}

// Predicates returns a copy of the query's predicates in the order they
// were added.
func (q Query) Predicates() []Predicate {
	out := make([]Predicate, len(q.preds))
	for i, p := range q.preds {
		if p.Values != nil {
			p.Values = append([]interface{}(nil), p.Values...)
		}
		out[i] = p
	}
	return out
}

// OrderBy returns a copy of the query's sort keys.
func (q Query) OrderBy() []Sort {
	return append([]Sort(nil), q.sort...)
}

// Where returns a new Query with p added to the conjunction.
func (q Query) Where(p Predicate) Query {
	preds := make([]Predicate, len(q.preds), len(q.preds)+1)
	copy(preds, q.preds)
	return Query{preds: append(preds, p), sort: q.sort}
}

// SortBy returns a new Query with s appended to the sort keys.
func (q Query) SortBy(s Sort) Query {
	sort := make([]Sort, len(q.sort), len(q.sort)+1)
	copy(sort, q.sort)
	return Query{preds: q.preds, sort: append(sort, s)}
}

// SearchFilter holds the optional encounter search criteria. A reference
// with a nil id counts as absent, as does an empty Forms or EncounterTypes
// set. From and To are inclusive.
type SearchFilter struct {
	Patient        *Ref
	Location       *Ref
	From           *time.Time
	To             *time.Time
	Forms          []Ref
	EncounterTypes []Ref
	IncludeVoided  bool
}

// BuildSearchQuery compiles f into a query sorted by encounter datetime,
// oldest first. Ties keep whatever order the store returns.
func BuildSearchQuery(f SearchFilter) Query {
	var q Query
	if f.Patient != nil && f.Patient.ID != uuid.Nil {
		q = q.Where(Predicate{Field: FieldPatient, Op: OpEq, Value: f.Patient.ID})
	}
	if f.Location != nil && f.Location.ID != uuid.Nil {
		q = q.Where(Predicate{Field: FieldLocation, Op: OpEq, Value: f.Location.ID})
	}
	if f.From != nil {
		q = q.Where(Predicate{Field: FieldEncounterDatetime, Op: OpGte, Value: *f.From})
	}
	if f.To != nil {
		q = q.Where(Predicate{Field: FieldEncounterDatetime, Op: OpLte, Value: *f.To})
	}
	if ids := refIDs(f.Forms); len(ids) > 0 {
		q = q.Where(Predicate{Field: FieldForm, Op: OpIn, Values: ids})
	}
	if ids := refIDs(f.EncounterTypes); len(ids) > 0 {
		q = q.Where(Predicate{Field: FieldEncounterType, Op: OpIn, Values: ids})
	}
	if !f.IncludeVoided {
		q = q.Where(Predicate{Field: FieldVoided, Op: OpEq, Value: false})
	}
	return q.SortBy(Sort{Field: FieldEncounterDatetime, Dir: Asc})
}

// PatientEncountersQuery selects the non-voided encounters of one patient,
// newest first. The direction is the reverse of BuildSearchQuery and
// callers depend on both.
func PatientEncountersQuery(patientID uuid.UUID) Query {
	return Query{}.
		Where(Predicate{Field: FieldPatient, Op: OpEq, Value: patientID}).
		Where(Predicate{Field: FieldVoided, Op: OpEq, Value: false}).
		SortBy(Sort{Field: FieldEncounterDatetime, Dir: Desc})
}

// GUIDQuery matches a record by its external identifier.
func GUIDQuery(guid string) Query {
	return Query{}.Where(Predicate{Field: FieldGUID, Op: OpEq, Value: guid})
}

// EncounterTypeNameQuery matches non-retired types with exactly this name.
func EncounterTypeNameQuery(name string) Query {
	return Query{}.
		Where(Predicate{Field: FieldName, Op: OpEq, Value: name}).
		Where(Predicate{Field: FieldRetired, Op: OpEq, Value: false})
}

// EncounterTypesQuery selects types whose retired flag equals
// includeRetired, by name. Passing true returns only retired types.
func EncounterTypesQuery(includeRetired bool) Query {
	return Query{}.
		Where(Predicate{Field: FieldRetired, Op: OpEq, Value: includeRetired}).
		SortBy(Sort{Field: FieldName, Dir: Asc})
}

// EncounterTypePrefixQuery selects types whose name starts with prefix,
// ignoring case, by name.
func EncounterTypePrefixQuery(prefix string) Query {
	return Query{}.
		Where(Predicate{Field: FieldName, Op: OpPrefixFold, Value: prefix}).
		SortBy(Sort{Field: FieldName, Dir: Asc})
}

func refIDs(refs []Ref) []interface{} {
	var ids []interface{}
	for _, r := range refs {
		if r.ID != uuid.Nil {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
