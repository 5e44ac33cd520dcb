package search

import (
	"testing"

	"github.com/amaydixit11/mealsync/internal/core"
)

func testRecipes() []core.Recipe {
	return []core.Recipe{
		{
			ID:          "r1",
			Name:        "Tomato Soup",
			Description: "Quick weeknight soup",
			Ingredients: []core.Ingredient{{Name: "tomatoes"}, {Name: "basil"}},
		},
		{
			ID:          "r2",
			Name:        "Pesto Pasta",
			Ingredients: []core.Ingredient{{Name: "basil"}, {Name: "pine nuts"}, {Name: "spaghetti"}},
		},
		{
			ID:      "r3",
			Name:    "Old Soup",
			Deleted: true,
		},
	}
}

func ids(results []SearchResult) map[string]bool {
	out := make(map[string]bool, len(results))
	for _, r := range results {
		out[r.ID] = true
	}
	return out
}

func TestBuildSkipsDeleted(t *testing.T) {
	idx, err := Build(testRecipes())
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	defer idx.Close()

	n, err := idx.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 indexed recipes, got %d", n)
	}

	results, err := idx.Search("soup", SearchOptions{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	got := ids(results)
	if !got["r1"] || got["r3"] {
		t.Errorf("unexpected hits: %v", got)
	}
}

func TestSearchAcrossFields(t *testing.T) {
	idx, err := Build(testRecipes())
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	defer idx.Close()

	results, err := idx.Search("basil", SearchOptions{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	got := ids(results)
	if len(got) != 2 || !got["r1"] || !got["r2"] {
		t.Errorf("expected both basil recipes, got %v", got)
	}

	results, err = idx.Search("basil", SearchOptions{Field: "name"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("no recipe is named basil, got %v", ids(results))
	}

	results, err = idx.Search("pasta", SearchOptions{Limit: 1})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r2" {
		t.Errorf("expected r2, got %v", results)
	}
}

func TestIndexRecipeUpdatesAndRemoves(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer idx.Close()

	r := core.Recipe{ID: "r1", Name: "Lentil Curry"}
	if err := idx.IndexRecipe(r); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	r.Name = "Chickpea Curry"
	if err := idx.IndexRecipe(r); err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	if results, _ := idx.Search("lentil", SearchOptions{}); len(results) != 0 {
		t.Error("old name should no longer match")
	}
	if results, _ := idx.Search("chickpea", SearchOptions{}); len(results) != 1 {
		t.Error("new name should match")
	}

	r.Deleted = true
	if err := idx.IndexRecipe(r); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n, _ := idx.Count(); n != 0 {
		t.Errorf("expected empty index, got %d", n)
	}
}
