package sync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/crdt"
	"github.com/google/uuid"
)

// weekplanKey is the register holding the whole plan, so concurrent plans
// replace each other instead of mixing days.
const weekplanKey = "current"

// ErrRecipeNotFound is returned for unknown or deleted recipe ids
type ErrRecipeNotFound struct {
	ID string
}

func (e ErrRecipeNotFound) Error() string {
	return "recipe not found: " + e.ID
}

func (o *Orchestrator) nowMillis() int64 {
	return o.cfg.Clock.Now().UnixMilli()
}

// ready must be called with o.mu held
func (o *Orchestrator) ready() error {
	if o.doc == nil {
		return ErrNotInitialized
	}
	return nil
}

// Recipes returns copies of all live recipes, oldest first
func (o *Orchestrator) Recipes() ([]core.Recipe, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return nil, err
	}

	keys := o.doc.Keys(crdt.RegionRecipes, false)
	recipes := make([]core.Recipe, 0, len(keys))
	for _, id := range keys {
		var r core.Recipe
		if _, err := o.doc.Get(crdt.RegionRecipes, id, &r); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", id, err)
		}
		recipes = append(recipes, r)
	}

	sort.SliceStable(recipes, func(i, j int) bool {
		if recipes[i].CreatedAt != recipes[j].CreatedAt {
			return recipes[i].CreatedAt < recipes[j].CreatedAt
		}
		return recipes[i].ID < recipes[j].ID
	})
	return recipes, nil
}

// Recipe returns a copy of one live recipe
func (o *Orchestrator) Recipe(id string) (core.Recipe, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return core.Recipe{}, err
	}
	return o.recipeLocked(id)
}

func (o *Orchestrator) recipeLocked(id string) (core.Recipe, error) {
	var r core.Recipe
	found, err := o.doc.Get(crdt.RegionRecipes, id, &r)
	if err != nil {
		return core.Recipe{}, err
	}
	if !found || r.Deleted {
		return core.Recipe{}, ErrRecipeNotFound{ID: id}
	}
	return r, nil
}

// AddRecipe stores a new recipe. An empty ID is replaced with a fresh UUID.
// Returns the stored record.
func (o *Orchestrator) AddRecipe(r core.Recipe) (core.Recipe, error) {
	if strings.TrimSpace(r.Name) == "" {
		return core.Recipe{}, fmt.Errorf("recipe name is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return core.Recipe{}, err
	}

	r = r.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	// A live write can never replace a tombstone.
	if e, ok := o.doc.Lookup(crdt.RegionRecipes, r.ID); ok && e.Deleted {
		return core.Recipe{}, ErrRecipeNotFound{ID: r.ID}
	}
	now := o.nowMillis()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Deleted = false
	r.DeletedAt = 0

	if err := o.doc.Put(crdt.RegionRecipes, r.ID, r); err != nil {
		return core.Recipe{}, err
	}
	o.triggerSync()
	return r, nil
}

// UpdateRecipe replaces the fields of an existing live recipe
func (o *Orchestrator) UpdateRecipe(r core.Recipe) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return err
	}

	existing, err := o.recipeLocked(r.ID)
	if err != nil {
		return err
	}

	r = r.Clone()
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = o.nowMillis()
	r.Deleted = false
	r.DeletedAt = 0

	if err := o.doc.Put(crdt.RegionRecipes, r.ID, r); err != nil {
		return err
	}
	o.triggerSync()
	return nil
}

// DeleteRecipe tombstones a recipe. Deleting an already deleted recipe is a no-op.
func (o *Orchestrator) DeleteRecipe(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return err
	}

	var r core.Recipe
	found, err := o.doc.Get(crdt.RegionRecipes, id, &r)
	if err != nil {
		return err
	}
	if !found {
		return ErrRecipeNotFound{ID: id}
	}
	if r.Deleted {
		return nil
	}

	now := o.nowMillis()
	r.Deleted = true
	r.DeletedAt = now
	r.UpdatedAt = now

	if err := o.doc.Tombstone(crdt.RegionRecipes, id, r); err != nil {
		return err
	}
	o.triggerSync()
	return nil
}

// Weekplan returns a copy of the current plan; ok is false if none was set
func (o *Orchestrator) Weekplan() (plan core.Weekplan, ok bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return core.Weekplan{}, false, err
	}
	plan, ok = o.weekplanLocked()
	return plan, ok, nil
}

func (o *Orchestrator) weekplanLocked() (core.Weekplan, bool) {
	var plan core.Weekplan
	e, ok := o.doc.Lookup(crdt.RegionWeekplan, weekplanKey)
	if !ok || e.Deleted {
		return core.Weekplan{}, false
	}
	if err := crdt.DecodeValue(e.Value, &plan); err != nil {
		o.logger().Warn().Err(err).Msg("unreadable weekplan")
		return core.Weekplan{}, false
	}
	return plan, true
}

// SetWeekplan replaces the plan. It must have exactly seven days.
func (o *Orchestrator) SetWeekplan(plan core.Weekplan) error {
	if plan.WeekID == "" {
		return fmt.Errorf("%w: weekId is required", ErrInvalidWeekplan)
	}
	if len(plan.Days) != core.DaysPerWeek {
		return fmt.Errorf("%w: expected %d days, got %d", ErrInvalidWeekplan, core.DaysPerWeek, len(plan.Days))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return err
	}

	plan = plan.Clone()
	plan.UpdatedAt = o.nowMillis()
	if err := o.doc.Put(crdt.RegionWeekplan, weekplanKey, plan); err != nil {
		return err
	}
	o.triggerSync()
	return nil
}

// ShoppingChecked returns a copy of the checked state by item key
func (o *Orchestrator) ShoppingChecked() (map[string]bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return nil, err
	}

	out := make(map[string]bool)
	for _, item := range o.doc.Keys(crdt.RegionShopping, false) {
		var checked bool
		if _, err := o.doc.Get(crdt.RegionShopping, item, &checked); err != nil {
			return nil, fmt.Errorf("shopping item %s: %w", item, err)
		}
		out[item] = checked
	}
	return out, nil
}

// SetShoppingChecked records the checked state of one item
func (o *Orchestrator) SetShoppingChecked(item string, checked bool) error {
	key := core.ShoppingKey(item)
	if key == "" {
		return fmt.Errorf("shopping item name is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return err
	}

	if err := o.doc.Put(crdt.RegionShopping, key, checked); err != nil {
		return err
	}
	o.triggerSync()
	return nil
}

// ResetShoppingChecked unchecks every checked item.
// Items are written as false rather than tombstoned so they can be checked again.
func (o *Orchestrator) ResetShoppingChecked() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ready(); err != nil {
		return err
	}

	changed := false
	for _, item := range o.doc.Keys(crdt.RegionShopping, false) {
		var checked bool
		if _, err := o.doc.Get(crdt.RegionShopping, item, &checked); err != nil || !checked {
			continue
		}
		if err := o.doc.Put(crdt.RegionShopping, item, false); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		o.triggerSync()
	}
	return nil
}
