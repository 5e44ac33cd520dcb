// Package crdt provides the replicated document engine for mealsync.
//
// This package implements state-based CRDTs:
// - LWWMap: map of Last-Writer-Wins registers with dominant tombstones
// - Document: named LWWMap regions plus a Lamport clock for one replica
package crdt

import (
	"bytes"
	"sort"

	"github.com/amaydixit11/mealsync/internal/core"
)

// Element is a single register in an LWWMap.
// Value holds the CBOR encoding of the stored record.
type Element struct {
	Value   []byte     `cbor:"v"`
	Stamp   core.Stamp `cbor:"s"`
	Deleted bool       `cbor:"d,omitempty"`
}

// wins reports whether e replaces other when both describe the same key.
// Tombstones beat live values regardless of stamp, so a peer that never saw
// a delete cannot bring the value back. Otherwise the later stamp wins.
// Equal stamps can carry different values when a replica restarts from an
// older snapshot; the larger encoded value wins so the order stays total.
func (e Element) wins(other Element) bool {
	if e.Deleted != other.Deleted {
		return e.Deleted
	}
	if e.Stamp != other.Stamp {
		return e.Stamp.After(other.Stamp)
	}
	return bytes.Compare(e.Value, other.Value) > 0
}

func (e Element) clone() Element {
	v := make([]byte, len(e.Value))
	copy(v, e.Value)
	return Element{Value: v, Stamp: e.Stamp, Deleted: e.Deleted}
}

// LWWMap is a map of Last-Writer-Wins registers keyed by string.
// Deleted keys are kept as tombstones for proper CRDT semantics.
type LWWMap struct {
	elements map[string]Element
}

// NewLWWMap creates a new empty map
func NewLWWMap() *LWWMap {
	return &LWWMap{
		elements: make(map[string]Element),
	}
}

// offer stores e under key if it wins against the current register.
// Returns true if the register changed.
func (m *LWWMap) offer(key string, e Element) bool {
	existing, exists := m.elements[key]
	if exists && !e.wins(existing) {
		return false
	}
	m.elements[key] = e.clone()
	return true
}

// Set writes a live value under key
func (m *LWWMap) Set(key string, value []byte, stamp core.Stamp) bool {
	return m.offer(key, Element{Value: value, Stamp: stamp})
}

// Tombstone marks key deleted, keeping value as the tombstone payload
func (m *LWWMap) Tombstone(key string, value []byte, stamp core.Stamp) bool {
	return m.offer(key, Element{Value: value, Stamp: stamp, Deleted: true})
}

// Lookup returns the register for key, including tombstones
func (m *LWWMap) Lookup(key string) (Element, bool) {
	e, exists := m.elements[key]
	if !exists {
		return Element{}, false
	}
	return e.clone(), true
}

// Keys returns the sorted keys of the map.
// Tombstoned keys are included only if includeDeleted is set.
func (m *LWWMap) Keys(includeDeleted bool) []string {
	keys := make([]string, 0, len(m.elements))
	for k, e := range m.elements {
		if e.Deleted && !includeDeleted {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge merges another map into this one.
// For each key, the winning register is kept.
// This operation is:
// - Commutative: A.Merge(B) = B.Merge(A)
// - Associative: (A.Merge(B)).Merge(C) = A.Merge(B.Merge(C))
// - Idempotent: A.Merge(A) = A
func (m *LWWMap) Merge(other *LWWMap) {
	for key, e := range other.elements {
		m.offer(key, e)
	}
}

// MaxTime returns the highest Lamport time of any register
func (m *LWWMap) MaxTime() uint64 {
	var max uint64
	for _, e := range m.elements {
		if e.Stamp.Time > max {
			max = e.Stamp.Time
		}
	}
	return max
}

// Clone creates a deep copy of the map
func (m *LWWMap) Clone() *LWWMap {
	clone := NewLWWMap()
	for k, e := range m.elements {
		clone.elements[k] = e.clone()
	}
	return clone
}

// Size returns the total number of registers (including tombstones)
func (m *LWWMap) Size() int {
	return len(m.elements)
}

// ActiveSize returns the number of live registers
func (m *LWWMap) ActiveSize() int {
	count := 0
	for _, e := range m.elements {
		if !e.Deleted {
			count++
		}
	}
	return count
}

func (m *LWWMap) export() map[string]Element {
	out := make(map[string]Element, len(m.elements))
	for k, e := range m.elements {
		out[k] = e.clone()
	}
	return out
}
