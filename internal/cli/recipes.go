package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/importer"
	"github.com/amaydixit11/mealsync/internal/search"
	"github.com/amaydixit11/mealsync/internal/sync"
	"github.com/spf13/cobra"
)

// NewRecipesCommand creates the recipes command group.
func NewRecipesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recipes",
		Aliases: []string{"recipe"},
		Short:   "Manage recipes",
	}
	cmd.AddCommand(newRecipesListCommand(rootOpts))
	cmd.AddCommand(newRecipesAddCommand(rootOpts))
	cmd.AddCommand(newRecipesDeleteCommand(rootOpts))
	cmd.AddCommand(newRecipesSearchCommand(rootOpts))
	cmd.AddCommand(newRecipesExportCommand(rootOpts))
	cmd.AddCommand(newRecipesImportCommand(rootOpts))
	return cmd
}

func newRecipesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				recipes, err := o.Recipes()
				if err != nil {
					return err
				}
				if len(recipes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No recipes found.")
					return nil
				}
				for _, r := range recipes {
					printRecipe(cmd, r)
				}
				return nil
			})
		},
	}
}

func newRecipesAddCommand(rootOpts *RootOptions) *cobra.Command {
	var description string
	var ingredients []string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := core.Recipe{Name: args[0], Description: description}
			for _, ing := range ingredients {
				r.Ingredients = append(r.Ingredients, importer.ParseIngredient(ing))
			}

			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				added, err := o.AddRecipe(r)
				if err != nil {
					return err
				}
				printRecipe(cmd, added)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "recipe description")
	cmd.Flags().StringArrayVarP(&ingredients, "ingredient", "i", nil, `ingredient as "name[:quantity[:unit]]", repeatable`)
	return cmd
}

func newRecipesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				r, err := findRecipe(o, args[0])
				if err != nil {
					return err
				}
				if err := o.DeleteRecipe(r.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", r.Name)
				return nil
			})
		},
	}
}

func newRecipesSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var field string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over recipe names, descriptions and ingredients",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				recipes, err := o.Recipes()
				if err != nil {
					return err
				}
				idx, err := search.Build(recipes)
				if err != nil {
					return err
				}
				defer idx.Close()

				results, err := idx.Search(strings.Join(args, " "), search.SearchOptions{Field: field, Limit: limit})
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
					return nil
				}

				byID := make(map[string]core.Recipe, len(recipes))
				for _, r := range recipes {
					byID[r.ID] = r
				}
				for _, res := range results {
					printRecipe(cmd, byID[res.ID])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "restrict to name, description or ingredients")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func newRecipesExportCommand(rootOpts *RootOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recipes as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, output)
			if err != nil {
				return err
			}

			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				recipes, err := o.Recipes()
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer file.Close()
					w = file
				}
				if err := importer.Export(recipes, f, w, time.Now()); err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d recipes to %s\n", len(recipes), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "json or csv (default from the file extension, else json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newRecipesImportCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import recipes from a JSON or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			recipes, err := importer.Import(file, f)
			if err != nil {
				return err
			}

			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				result := importer.Apply(o, recipes)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d recipes (%d skipped, %d failed)\n",
					result.Imported, result.TotalRead, result.Skipped, result.Failed)
				for _, e := range result.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "json or csv (default from the file extension)")
	return cmd
}

// formatFor picks the explicit format, else the one implied by path
func formatFor(format, path string) (importer.Format, error) {
	if format != "" {
		return importer.ParseFormat(format)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return importer.FormatCSV, nil
	}
	return importer.FormatJSON, nil
}

func printRecipe(cmd *cobra.Command, r core.Recipe) {
	names := make([]string, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		names[i] = ing.Name
	}
	line := fmt.Sprintf("%s  %s", shortID(r.ID), r.Name)
	if len(names) > 0 {
		line += " (" + strings.Join(names, ", ") + ")"
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// findRecipe resolves a full id, a unique id prefix or a case-insensitive name
func findRecipe(o *sync.Orchestrator, ref string) (core.Recipe, error) {
	recipes, err := o.Recipes()
	if err != nil {
		return core.Recipe{}, err
	}

	var matches []core.Recipe
	for _, r := range recipes {
		if r.ID == ref {
			return r, nil
		}
		if strings.HasPrefix(r.ID, ref) || strings.EqualFold(r.Name, ref) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return core.Recipe{}, sync.ErrRecipeNotFound{ID: ref}
	case 1:
		return matches[0], nil
	default:
		return core.Recipe{}, fmt.Errorf("%q matches %d recipes", ref, len(matches))
	}
}
