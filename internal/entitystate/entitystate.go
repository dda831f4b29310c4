// Package entitystate holds the live entity table and the interned
// EntityType registry the snapshot decoder reads and writes against.
package entitystate

import (
	"fmt"
	"sync"

	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/seqbuf"
)

// EntityType is the immutable, interned per-spawn-type record: its wire
// schema and the "schema zero" baseline image used as the delta reference
// for an entity that has never been acked.
type EntityType struct {
	TypeID   uint16
	Schema   schema.Schema
	Baseline []byte
}

// TypeRegistry interns EntityType records by typeId. Once inserted, a type
// is immutable; registering a typeId that is already known, with any
// content, is a programmer error and panics.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[uint16]*EntityType
}

// NewTypeRegistry constructs an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[uint16]*EntityType)}
}

// Register interns typeId's schema with an all-zero baseline image. Calling
// it twice for the same typeId is a fatal assertion: types are immutable
// once known, and the server is not expected to redefine one.
func (r *TypeRegistry) Register(typeID uint16, s schema.Schema) *EntityType {
	return r.register(typeID, s, nil)
}

// RegisterWithBaseline interns typeId's schema using baseline as the "schema
// zero" image (§4.H step 7: the wire carries an explicit baseline alongside
// each newly-seen schema). baseline is copied defensively.
func (r *TypeRegistry) RegisterWithBaseline(typeID uint16, s schema.Schema, baseline []byte) *EntityType {
	return r.register(typeID, s, baseline)
}

func (r *TypeRegistry) register(typeID uint16, s schema.Schema, baseline []byte) *EntityType {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[typeID]; ok {
		panic(fmt.Sprintf("entitystate: typeId %d already registered", typeID))
	}
	byteSize := s.GetByteSize()
	image := make([]byte, byteSize)
	copy(image, baseline)
	t := &EntityType{TypeID: typeID, Schema: s, Baseline: image}
	r.types[typeID] = t
	return t
}

// Lookup returns the interned EntityType for typeId, or nil if unknown.
func (r *TypeRegistry) Lookup(typeID uint16) *EntityType {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeID]
}

// Entity is one slot of the live entity table (§3). Free slots have a nil
// Type. Scratch buffers (Prediction, FieldsChangedPrediction) are reused
// across snapshots by the decoder rather than reallocated per tick.
type Entity struct {
	Type                    *EntityType
	FieldMask               uint8
	LastUpdate              []byte
	LastUpdateSequence      int64
	DespawnSequence         int64
	Prediction              []byte
	FieldsChangedPrediction []byte
	Baselines               *seqbuf.SparseSequenceBuffer
}

// Live reports whether the slot currently holds a spawned entity.
func (e *Entity) Live() bool {
	return e != nil && e.Type != nil
}

// DespawnPending reports whether the slot is waiting for the server to
// acknowledge a despawn before it can be finalised.
func (e *Entity) DespawnPending() bool {
	return e != nil && e.DespawnSequence > 0
}

// Reset finalises the slot: the server has confirmed it will never send a
// delta referencing this id again, so every per-entity buffer is released.
func (e *Entity) Reset() {
	if e == nil {
		return
	}
	e.Type = nil
	e.FieldMask = 0
	e.LastUpdate = nil
	e.LastUpdateSequence = 0
	e.DespawnSequence = 0
	e.Prediction = nil
	e.FieldsChangedPrediction = nil
	e.Baselines = nil
}

// Table is the ordered, dense, growable entity array indexed by entity id.
type Table struct {
	mu                sync.RWMutex
	entities          []Entity
	baselineCacheSize int
}

// NewTable constructs an empty entity table. baselineCacheSize sizes each
// spawned entity's sparse baseline ring (snapshotDeltaCacheSize).
func NewTable(baselineCacheSize int) *Table {
	if baselineCacheSize < 1 {
		baselineCacheSize = 1
	}
	return &Table{baselineCacheSize: baselineCacheSize}
}

// Grow extends the table so id is addressable, leaving new slots free.
func (t *Table) Grow(id int) {
	if t == nil || id < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < len(t.entities) {
		return
	}
	grown := make([]Entity, id+1)
	copy(grown, t.entities)
	t.entities = grown
}

// At returns a pointer to the slot for id, growing the table first if
// necessary. The returned pointer is stable until the next Grow call.
func (t *Table) At(id int) *Entity {
	if t == nil || id < 0 {
		return nil
	}
	t.Grow(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &t.entities[id]
}

// Len returns the current addressable table length.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// LiveIDs returns the ids of every currently live entity, in ascending
// order. The snapshot decoder walks this list once per snapshot to predict
// and commit baselines for all live entities (§4.H step 11).
func (t *Table) LiveIDs() []int {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.entities))
	for i := range t.entities {
		if t.entities[i].Live() {
			ids = append(ids, i)
		}
	}
	return ids
}

// Spawn installs typ at id with the given fieldMask, provided the slot is
// currently free. Returns false if the slot was already occupied.
func (t *Table) Spawn(id int, typ *EntityType, fieldMask uint8) bool {
	e := t.At(id)
	if e == nil || e.Live() {
		return false
	}
	byteSize := typ.Schema.GetByteSize()
	e.Type = typ
	e.FieldMask = fieldMask
	e.LastUpdate = make([]byte, byteSize)
	e.LastUpdateSequence = 0
	e.DespawnSequence = 0
	e.Prediction = make([]byte, byteSize)
	e.FieldsChangedPrediction = make([]byte, (len(typ.Schema.Fields)+7)/8)
	e.Baselines = seqbuf.NewSparseSequenceBuffer(t.baselineCacheSize, byteSize)
	return true
}
