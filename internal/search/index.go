// Package search provides full-text recipe search using Bleve.
// The index is derived state: it is rebuilt from the document's recipes
// and never synced.
package search

import (
	"fmt"
	"strings"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

const recipeType = "recipe"

// Index wraps an in-memory Bleve index of recipes
type Index struct {
	index bleve.Index
}

// document is what gets indexed for one recipe
type document struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Ingredients string `json:"ingredients"`
}

// BleveType routes documents to the recipe mapping
func (d document) BleveType() string {
	return d.Type
}

func newMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("name", nameField)

	descField := bleve.NewTextFieldMapping()
	descField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("description", descField)

	ingredientsField := bleve.NewTextFieldMapping()
	ingredientsField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("ingredients", ingredientsField)

	typeField := bleve.NewTextFieldMapping()
	typeField.Analyzer = "keyword"
	typeField.Index = false
	docMapping.AddFieldMappingsAt("type", typeField)

	m.AddDocumentMapping(recipeType, docMapping)
	return m
}

// NewIndex creates an empty in-memory index
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Build creates an index over recipes. Deleted recipes are skipped.
func Build(recipes []core.Recipe) (*Index, error) {
	idx, err := NewIndex()
	if err != nil {
		return nil, err
	}

	batch := idx.index.NewBatch()
	for _, r := range recipes {
		if r.Deleted {
			continue
		}
		if err := batch.Index(r.ID, toDocument(r)); err != nil {
			idx.Close()
			return nil, fmt.Errorf("failed to index recipe %s: %w", r.ID, err)
		}
	}
	if err := idx.index.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to index recipes: %w", err)
	}
	return idx, nil
}

func toDocument(r core.Recipe) document {
	names := make([]string, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		names = append(names, ing.Name)
	}
	return document{
		Type:        recipeType,
		Name:        r.Name,
		Description: r.Description,
		Ingredients: strings.Join(names, "\n"),
	}
}

// IndexRecipe adds or updates a recipe. Deleted recipes are removed.
func (i *Index) IndexRecipe(r core.Recipe) error {
	if r.Deleted {
		return i.DeleteRecipe(r.ID)
	}
	return i.index.Index(r.ID, toDocument(r))
}

// DeleteRecipe removes a recipe from the index
func (i *Index) DeleteRecipe(id string) error {
	return i.index.Delete(id)
}

// SearchOptions configures a search query
type SearchOptions struct {
	Field string // restrict to name, description or ingredients
	Limit int    // Max results (default 50)
}

// SearchResult represents a search hit
type SearchResult struct {
	ID    string
	Score float64
}

// Search performs a full-text search, best matches first
func (i *Index) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	q := bleve.NewMatchQuery(query)
	if opts.Field != "" {
		q.SetField(opts.Field)
	}

	searchReq := bleve.NewSearchRequest(q)
	searchReq.Size = opts.Limit
	if searchReq.Size <= 0 {
		searchReq.Size = 50
	}

	searchRes, err := i.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		results = append(results, SearchResult{
			ID:    hit.ID,
			Score: hit.Score,
		})
	}
	return results, nil
}

// Count returns the number of indexed recipes
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}
