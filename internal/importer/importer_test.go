package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecipes() []core.Recipe {
	return []core.Recipe{
		{
			ID:          "r1",
			Name:        "Pancakes",
			Description: "Sunday, breakfast",
			Ingredients: []core.Ingredient{
				{Name: "flour", Quantity: "200", Unit: "g"},
				{Name: "eggs", Quantity: "2"},
				{Name: "salt"},
			},
		},
		{ID: "r2", Name: "Toast"},
	}
}

func TestExportJSON(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(sampleRecipes(), &buf, now))

	var export ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, ExportVersion, export.Version)
	assert.Equal(t, 2, export.RecipeCount)
	assert.True(t, export.ExportedAt.Equal(now))

	buf.Reset()
	require.NoError(t, ExportJSON(nil, &buf, now))
	assert.Contains(t, buf.String(), `"recipes": []`)
}

func TestImportJSONAcceptsBareArray(t *testing.T) {
	recipes, err := ImportJSON(strings.NewReader(`  [{"id":"a","name":"Soup","ingredients":[{"name":"leek"}]}]`))
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Soup", recipes[0].Name)
	assert.Equal(t, "leek", recipes[0].Ingredients[0].Name)

	_, err = ImportJSON(strings.NewReader(`{not json`))
	assert.Error(t, err)
}

func TestJSONExportImportsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(sampleRecipes(), &buf, time.Now()))

	recipes, err := ImportJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleRecipes(), recipes)
}

func TestCSVExportImportsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(sampleRecipes(), &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,name,description,ingredients", lines[0])
	assert.Equal(t, `r1,Pancakes,"Sunday, breakfast",flour:200:g;eggs:2;salt`, lines[1])

	recipes, err := ImportCSV(&buf)
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, sampleRecipes()[0], recipes[0])
	assert.Equal(t, "Toast", recipes[1].Name)
	assert.Empty(t, recipes[1].Ingredients)
}

func TestImportCSVColumns(t *testing.T) {
	recipes, err := Import(strings.NewReader("Name,Ingredients\nChili,beans:1:can\n"), FormatCSV)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "", recipes[0].ID)
	assert.Equal(t, []core.Ingredient{{Name: "beans", Quantity: "1", Unit: "can"}}, recipes[0].Ingredients)

	_, err = ImportCSV(strings.NewReader("id,title\n1,x\n"))
	assert.Error(t, err)
	_, err = ImportCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("markdown")
	assert.Error(t, err)
}

func TestParseIngredient(t *testing.T) {
	assert.Equal(t, core.Ingredient{Name: "salt"}, ParseIngredient(" salt "))
	assert.Equal(t, core.Ingredient{Name: "milk", Quantity: "1"}, ParseIngredient("milk:1"))
	assert.Equal(t, core.Ingredient{Name: "rice", Quantity: "2", Unit: "cups"}, ParseIngredient("rice: 2 :cups"))
}

type fakeSink struct {
	recipes map[string]core.Recipe
	failOn  string
}

func (s *fakeSink) Recipe(id string) (core.Recipe, error) {
	r, ok := s.recipes[id]
	if !ok {
		return core.Recipe{}, errors.New("not found")
	}
	return r, nil
}

func (s *fakeSink) AddRecipe(r core.Recipe) (core.Recipe, error) {
	if r.Name == s.failOn {
		return core.Recipe{}, errors.New("rejected")
	}
	if r.ID == "" {
		r.ID = "gen-" + r.Name
	}
	s.recipes[r.ID] = r
	return r, nil
}

func TestApply(t *testing.T) {
	sink := &fakeSink{
		recipes: map[string]core.Recipe{"r1": {ID: "r1", Name: "Existing"}},
		failOn:  "Broken",
	}

	result := Apply(sink, []core.Recipe{
		{ID: "r1", Name: "Pancakes"},
		{ID: "r3", Name: "Gone", Deleted: true},
		{Name: "Broken"},
		{Name: "Fresh"},
		{ID: "r4", Name: "Kept"},
	})

	assert.Equal(t, 5, result.TotalRead)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Broken")

	assert.Equal(t, "Existing", sink.recipes["r1"].Name)
	assert.Contains(t, sink.recipes, "gen-Fresh")
	assert.Contains(t, sink.recipes, "r4")
}
