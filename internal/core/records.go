package core

import (
	"strings"
)

// Ingredient is one line of a recipe's ingredient list
type Ingredient struct {
	Name     string `json:"name" cbor:"name"`
	Quantity string `json:"quantity,omitempty" cbor:"quantity,omitempty"`
	Unit     string `json:"unit,omitempty" cbor:"unit,omitempty"`
}

// Recipe is the record stored under its ID in the recipes region.
// Timestamps are unix milliseconds. A deleted recipe keeps its entry with
// Deleted and DeletedAt set so the deletion replicates.
type Recipe struct {
	ID          string       `json:"id" cbor:"id"`
	Name        string       `json:"name" cbor:"name"`
	Description string       `json:"description,omitempty" cbor:"description,omitempty"`
	Photo       string       `json:"photo,omitempty" cbor:"photo,omitempty"`
	Ingredients []Ingredient `json:"ingredients" cbor:"ingredients"`
	CreatedAt   int64        `json:"createdAt" cbor:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt" cbor:"updatedAt"`
	Deleted     bool         `json:"deleted,omitempty" cbor:"deleted,omitempty"`
	DeletedAt   int64        `json:"deletedAt,omitempty" cbor:"deletedAt,omitempty"`
}

// Clone creates a deep copy of the recipe
func (r Recipe) Clone() Recipe {
	out := r
	out.Ingredients = make([]Ingredient, len(r.Ingredients))
	copy(out.Ingredients, r.Ingredients)
	return out
}

// DayEntry assigns a recipe to one day of the plan
type DayEntry struct {
	DayName  string `json:"dayName" cbor:"dayName"`
	Date     string `json:"date" cbor:"date"`
	RecipeID string `json:"recipeId,omitempty" cbor:"recipeId,omitempty"`
}

// DaysPerWeek is the number of day entries in a weekplan
const DaysPerWeek = 7

// Weekplan is the content of the weekplan region
type Weekplan struct {
	WeekID    string     `json:"weekId" cbor:"weekId"`
	StartDate string     `json:"startDate" cbor:"startDate"`
	Days      []DayEntry `json:"days" cbor:"days"`
	UpdatedAt int64      `json:"updatedAt" cbor:"updatedAt"`
}

// Clone creates a deep copy of the weekplan
func (w Weekplan) Clone() Weekplan {
	out := w
	out.Days = make([]DayEntry, len(w.Days))
	copy(out.Days, w.Days)
	return out
}

// ShoppingKey normalizes an item name to its key in the shopping-list region
func ShoppingKey(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}
