package crdt

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/fxamacker/cbor/v2"
)

// Root regions of a mealsync document
const (
	RegionRecipes  = "recipes"
	RegionWeekplan = "weekplan"
	RegionShopping = "shoppingListChecked"
)

// Regions lists every root region, in a fixed order
var Regions = []string{RegionRecipes, RegionWeekplan, RegionShopping}

const stateFormat = 1

var ErrInvalidState = errors.New("invalid document state")

// ErrUnknownRegion is returned when an operation names a region the document does not have
type ErrUnknownRegion struct {
	Region string
}

func (e *ErrUnknownRegion) Error() string {
	return "unknown region: " + e.Region
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// State is the replicated content of a document, exchanged between peers.
type State struct {
	Format  uint                          `cbor:"f"`
	Regions map[string]map[string]Element `cbor:"r"`
}

// Snapshot is State plus the replica identity, persisted on the device.
type Snapshot struct {
	Replica string `cbor:"replica"`
	Clock   uint64 `cbor:"clock"`
	State   State  `cbor:"state"`
}

// Document is one replica of the shared dataset.
// It is not safe for concurrent use; callers serialize access.
type Document struct {
	regions map[string]*LWWMap
	clock   *core.Clock
}

// NewDocument creates an empty document with all root regions present
func NewDocument(replica string) *Document {
	return newDocument(core.NewClock(replica))
}

func newDocument(clock *core.Clock) *Document {
	d := &Document{
		regions: make(map[string]*LWWMap, len(Regions)),
		clock:   clock,
	}
	for _, name := range Regions {
		d.regions[name] = NewLWWMap()
	}
	return d
}

// LoadSnapshot restores a document from ExportSnapshot output
func LoadSnapshot(data []byte) (*Document, error) {
	var snap Snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if snap.Replica == "" {
		return nil, fmt.Errorf("%w: snapshot has no replica id", ErrInvalidState)
	}
	if err := validateState(&snap.State); err != nil {
		return nil, err
	}

	d := newDocument(core.NewClockWithTime(snap.Replica, snap.Clock))
	d.apply(&snap.State)
	if max := d.maxTime(); max > d.clock.Now() {
		d.clock.Update(max)
	}
	return d, nil
}

// Replica returns the id this document stamps local writes with
func (d *Document) Replica() string {
	return d.clock.Replica()
}

// Clock returns the current Lamport time
func (d *Document) Clock() uint64 {
	return d.clock.Now()
}

func (d *Document) region(name string) (*LWWMap, error) {
	m, ok := d.regions[name]
	if !ok {
		return nil, &ErrUnknownRegion{Region: name}
	}
	return m, nil
}

// Put writes value under key in region
func (d *Document) Put(region, key string, value any) error {
	m, err := d.region(region)
	if err != nil {
		return err
	}
	data, err := encMode.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	m.Set(key, data, d.clock.Tick())
	return nil
}

// Tombstone marks key deleted in region, keeping value as the tombstone record
func (d *Document) Tombstone(region, key string, value any) error {
	m, err := d.region(region)
	if err != nil {
		return err
	}
	data, err := encMode.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	m.Tombstone(key, data, d.clock.Tick())
	return nil
}

// Lookup returns the register for key in region, including tombstones
func (d *Document) Lookup(region, key string) (Element, bool) {
	m, ok := d.regions[region]
	if !ok {
		return Element{}, false
	}
	return m.Lookup(key)
}

// Get decodes the value stored under key into out.
// Returns found=false if the key was never written.
func (d *Document) Get(region, key string, out any) (found bool, err error) {
	e, ok := d.Lookup(region, key)
	if !ok {
		return false, nil
	}
	if err := DecodeValue(e.Value, out); err != nil {
		return true, err
	}
	return true, nil
}

// Keys returns the sorted keys of region
func (d *Document) Keys(region string, includeDeleted bool) []string {
	m, ok := d.regions[region]
	if !ok {
		return nil
	}
	return m.Keys(includeDeleted)
}

// DecodeValue decodes a register value into out
func DecodeValue(data []byte, out any) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}

// State returns a deep copy of the replicated content
func (d *Document) State() State {
	s := State{
		Format:  stateFormat,
		Regions: make(map[string]map[string]Element, len(d.regions)),
	}
	for name, m := range d.regions {
		s.Regions[name] = m.export()
	}
	return s
}

// ExportUpdate encodes the replicated content for another peer
func (d *Document) ExportUpdate() ([]byte, error) {
	return encMode.Marshal(d.State())
}

// ExportSnapshot encodes the document for local persistence
func (d *Document) ExportSnapshot() ([]byte, error) {
	return encMode.Marshal(Snapshot{
		Replica: d.Replica(),
		Clock:   d.clock.Now(),
		State:   d.State(),
	})
}

// Import merges an ExportUpdate payload from any peer.
// The payload is fully decoded and validated before the document is
// touched, so a corrupt or foreign payload leaves it unchanged.
// Importing already-known data is a no-op on content.
func (d *Document) Import(data []byte) error {
	var s State
	if err := decMode.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := validateState(&s); err != nil {
		return err
	}

	// Update clock first so later local writes stamp above everything merged.
	d.clock.Update(stateMaxTime(&s))
	d.apply(&s)
	return nil
}

// Merge merges another document's content into this one
func (d *Document) Merge(other *Document) {
	d.clock.Update(other.maxTime())
	for name, m := range other.regions {
		if local, ok := d.regions[name]; ok {
			local.Merge(m)
		}
	}
}

func (d *Document) apply(s *State) {
	for name, elements := range s.Regions {
		m := d.regions[name]
		for key, e := range elements {
			m.offer(key, e)
		}
	}
}

// Version returns a marker that is equal for two documents exactly when
// their replicated content is equal. It carries no ordering.
func (d *Document) Version() []byte {
	data, err := d.ExportUpdate()
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(data)
	return sum[:]
}

// Clone creates a deep copy of the document with its own clock
func (d *Document) Clone() *Document {
	clone := newDocument(core.NewClockWithTime(d.Replica(), d.clock.Now()))
	for name, m := range d.regions {
		clone.regions[name] = m.Clone()
	}
	return clone
}

func (d *Document) maxTime() uint64 {
	var max uint64
	for _, m := range d.regions {
		if t := m.MaxTime(); t > max {
			max = t
		}
	}
	return max
}

func stateMaxTime(s *State) uint64 {
	var max uint64
	for _, elements := range s.Regions {
		for _, e := range elements {
			if e.Stamp.Time > max {
				max = e.Stamp.Time
			}
		}
	}
	return max
}

func validateState(s *State) error {
	if s.Format != stateFormat {
		return fmt.Errorf("%w: unsupported format %d", ErrInvalidState, s.Format)
	}
	for name, elements := range s.Regions {
		if !isRegion(name) {
			return fmt.Errorf("%w: %v", ErrInvalidState, &ErrUnknownRegion{Region: name})
		}
		for key, e := range elements {
			if e.Stamp.Time == 0 || e.Stamp.Replica == "" {
				return fmt.Errorf("%w: register %s/%s has no stamp", ErrInvalidState, name, key)
			}
			if err := validateValue(name, e.Value); err != nil {
				return fmt.Errorf("%w: register %s/%s: %v", ErrInvalidState, name, key, err)
			}
		}
	}
	return nil
}

// validateValue checks that a register decodes as the record its region holds
func validateValue(region string, data []byte) error {
	switch region {
	case RegionRecipes:
		var r core.Recipe
		return DecodeValue(data, &r)
	case RegionWeekplan:
		var p core.Weekplan
		return DecodeValue(data, &p)
	case RegionShopping:
		var checked bool
		return DecodeValue(data, &checked)
	}
	return nil
}

func isRegion(name string) bool {
	for _, r := range Regions {
		if r == name {
			return true
		}
	}
	return false
}
