// Package importer moves recipes in and out of mealsync as JSON or CSV.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
)

// ExportVersion is written into every JSON export
const ExportVersion = "1"

// ExportData is a full recipe export
type ExportData struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	RecipeCount int           `json:"recipe_count"`
	Recipes     []core.Recipe `json:"recipes"`
}

// Format specifies the export format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user supplied format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q: must be json or csv", s)
	}
}

var csvHeader = []string{"id", "name", "description", "ingredients"}

// Export writes recipes in format
func Export(recipes []core.Recipe, format Format, w io.Writer, now time.Time) error {
	switch format {
	case FormatJSON:
		return ExportJSON(recipes, w, now)
	case FormatCSV:
		return ExportCSV(recipes, w)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// ExportJSON writes recipes wrapped in ExportData
func ExportJSON(recipes []core.Recipe, w io.Writer, now time.Time) error {
	if recipes == nil {
		recipes = []core.Recipe{}
	}
	export := ExportData{
		Version:     ExportVersion,
		ExportedAt:  now.UTC(),
		RecipeCount: len(recipes),
		Recipes:     recipes,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ExportCSV writes one row per recipe. Ingredients are joined as
// name:quantity:unit separated by semicolons.
func ExportCSV(recipes []core.Recipe, w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recipes {
		row := []string{r.ID, r.Name, r.Description, formatIngredients(r.Ingredients)}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatIngredients(ings []core.Ingredient) string {
	parts := make([]string, len(ings))
	for i, ing := range ings {
		p := ing.Name
		if ing.Quantity != "" || ing.Unit != "" {
			p += ":" + ing.Quantity
		}
		if ing.Unit != "" {
			p += ":" + ing.Unit
		}
		parts[i] = p
	}
	return strings.Join(parts, ";")
}

// ParseIngredient reads one "name[:quantity[:unit]]" ingredient
func ParseIngredient(s string) core.Ingredient {
	parts := strings.SplitN(s, ":", 3)
	ing := core.Ingredient{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		ing.Quantity = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		ing.Unit = strings.TrimSpace(parts[2])
	}
	return ing
}

func parseIngredients(s string) []core.Ingredient {
	var ings []core.Ingredient
	for _, p := range strings.Split(s, ";") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		ings = append(ings, ParseIngredient(p))
	}
	return ings
}

// ImportJSON reads an ExportData document or a bare array of recipes
func ImportJSON(r io.Reader) ([]core.Recipe, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var recipes []core.Recipe
		if err := json.Unmarshal(data, &recipes); err != nil {
			return nil, fmt.Errorf("invalid JSON format: %w", err)
		}
		return recipes, nil
	}

	var export ExportData
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	return export.Recipes, nil
}

// ImportCSV reads recipes from CSV with a header row. Only the name
// column is required.
func ImportCSV(r io.Reader) ([]core.Recipe, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, col := range header {
		indices[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := indices["name"]; !ok {
		return nil, errors.New("missing name column")
	}
	column := func(record []string, name string) string {
		if idx, ok := indices[name]; ok && idx < len(record) {
			return record[idx]
		}
		return ""
	}

	var recipes []core.Recipe
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		recipes = append(recipes, core.Recipe{
			ID:          column(record, "id"),
			Name:        column(record, "name"),
			Description: column(record, "description"),
			Ingredients: parseIngredients(column(record, "ingredients")),
		})
	}
	return recipes, nil
}

// Import reads recipes in format
func Import(r io.Reader, format Format) ([]core.Recipe, error) {
	switch format {
	case FormatJSON:
		return ImportJSON(r)
	case FormatCSV:
		return ImportCSV(r)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// ImportResult contains import statistics
type ImportResult struct {
	TotalRead int      `json:"total_read"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RecipeSink is where imported recipes go
type RecipeSink interface {
	Recipe(id string) (core.Recipe, error)
	AddRecipe(r core.Recipe) (core.Recipe, error)
}

// Apply adds recipes to sink. Deleted recipes and those whose id is
// already present are skipped; failures are counted and the rest still
// imported.
func Apply(sink RecipeSink, recipes []core.Recipe) ImportResult {
	result := ImportResult{TotalRead: len(recipes)}
	for _, r := range recipes {
		if r.Deleted {
			result.Skipped++
			continue
		}
		if r.ID != "" {
			if _, err := sink.Recipe(r.ID); err == nil {
				result.Skipped++
				continue
			}
		}
		if _, err := sink.AddRecipe(r); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Name, err))
			continue
		}
		result.Imported++
	}
	return result
}
