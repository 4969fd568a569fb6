package encounter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRecord[T any] struct {
	seq int
	val T
}

type memoryRepo struct {
	mu         sync.RWMutex
	seq        int
	encounters map[uuid.UUID]memRecord[Encounter]
	types      map[uuid.UUID]memRecord[EncounterType]
	locations  map[uuid.UUID]memRecord[Location]
	now        func() time.Time
}

// NewMemoryRepo returns a Repository held in process memory. Rows are kept
// in insertion order and sorted stably, so ties keep that order.
func NewMemoryRepo() Repository {
	return &memoryRepo{
		encounters: make(map[uuid.UUID]memRecord[Encounter]),
		types:      make(map[uuid.UUID]memRecord[EncounterType]),
		locations:  make(map[uuid.UUID]memRecord[Location]),
		now:        time.Now,
	}
}

func (r *memoryRepo) nextSeq() int {
	r.seq++
	return r.seq
}

func (r *memoryRepo) SaveEncounter(_ context.Context, enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enc.prepare(r.now())
	rec, ok := r.encounters[enc.ID]
	if ok {
		enc.CreatedAt = rec.val.CreatedAt
	} else {
		rec.seq = r.nextSeq()
	}
	rec.val = *enc
	r.encounters[enc.ID] = rec
	return nil
}

func (r *memoryRepo) GetEncounter(_ context.Context, id uuid.UUID) (*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.encounters[id]
	if !ok {
		return nil, nil
	}
	e := rec.val
	return &e, nil
}

func (r *memoryRepo) DeleteEncounter(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.encounters, id)
	return nil
}

func (r *memoryRepo) FindEncounters(_ context.Context, q Query) ([]*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return find(r.encounters, q, (*Encounter).field), nil
}

func (r *memoryRepo) GetSavedEncounterDatetime(_ context.Context, id uuid.UUID) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.encounters[id]
	if !ok {
		return nil, nil
	}
	t := rec.val.EncounterDatetime
	return &t, nil
}

func (r *memoryRepo) SaveEncounterType(_ context.Context, et *EncounterType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	et.prepare(r.now())
	rec, ok := r.types[et.ID]
	if ok {
		et.CreatedAt = rec.val.CreatedAt
	} else {
		rec.seq = r.nextSeq()
	}
	rec.val = *et
	r.types[et.ID] = rec
	return nil
}

func (r *memoryRepo) GetEncounterType(_ context.Context, id uuid.UUID) (*EncounterType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.types[id]
	if !ok {
		return nil, nil
	}
	et := rec.val
	return &et, nil
}

func (r *memoryRepo) DeleteEncounterType(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, id)
	return nil
}

func (r *memoryRepo) FindEncounterTypes(_ context.Context, q Query) ([]*EncounterType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return find(r.types, q, (*EncounterType).field), nil
}

func (r *memoryRepo) SaveLocation(_ context.Context, loc *Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc.prepare(r.now())
	rec, ok := r.locations[loc.ID]
	if ok {
		loc.CreatedAt = rec.val.CreatedAt
	} else {
		rec.seq = r.nextSeq()
	}
	rec.val = *loc
	r.locations[loc.ID] = rec
	return nil
}

func (r *memoryRepo) FindLocations(_ context.Context, q Query) ([]*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return find(r.locations, q, (*Location).field), nil
}

// find evaluates q against rows and returns copies in insertion order,
// stably sorted by the query's keys.
func find[T any](rows map[uuid.UUID]memRecord[T], q Query, field func(*T, Field) interface{}) []*T {
	preds := q.Predicates()
	matched := make([]memRecord[T], 0, len(rows))
	for _, rec := range rows {
		if matchesAll(preds, func(f Field) interface{} { return field(&rec.val, f) }) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	order := q.OrderBy()
	sort.SliceStable(matched, func(i, j int) bool {
		for _, s := range order {
			c := compareValues(field(&matched[i].val, s.Field), field(&matched[j].val, s.Field))
			if c == 0 {
				continue
			}
			if s.Dir == Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	out := make([]*T, len(matched))
	for i := range matched {
		v := matched[i].val
		out[i] = &v
	}
	return out
}

func matchesAll(preds []Predicate, get func(Field) interface{}) bool {
	for _, p := range preds {
		if !matches(p, get(p.Field)) {
			return false
		}
	}
	return true
}

func matches(p Predicate, actual interface{}) bool {
	switch p.Op {
	case OpEq:
		return equalValues(actual, p.Value)
	case OpGte:
		return actual != nil && compareValues(actual, p.Value) >= 0
	case OpLte:
		return actual != nil && compareValues(actual, p.Value) <= 0
	case OpIn:
		for _, v := range p.Values {
			if equalValues(actual, v) {
				return true
			}
		}
		return false
	case OpPrefixFold:
		s, ok := actual.(string)
		prefix, _ := p.Value.(string)
		return ok && strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// compareValues orders two values of the same kind. nil sorts first.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case uuid.UUID:
		y, _ := b.(uuid.UUID)
		return strings.Compare(x.String(), y.String())
	}
	return 0
}
