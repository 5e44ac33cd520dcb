package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/sync"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

// NewPlanCommand creates the plan command group.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show or replace the weekly meal plan",
	}
	cmd.AddCommand(newPlanShowCommand(rootOpts))
	cmd.AddCommand(newPlanSetCommand(rootOpts))
	return cmd
}

func newPlanShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				plan, ok, err := o.Weekplan()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, "No plan set.")
					return nil
				}

				names := make(map[string]string)
				recipes, err := o.Recipes()
				if err != nil {
					return err
				}
				for _, r := range recipes {
					names[r.ID] = r.Name
				}

				fmt.Fprintf(out, "Week %s (from %s)\n", plan.WeekID, plan.StartDate)
				for _, day := range plan.Days {
					meal := "-"
					if day.RecipeID != "" {
						meal = names[day.RecipeID]
						if meal == "" {
							meal = "(deleted recipe)"
						}
					}
					fmt.Fprintf(out, "%-10s %s  %s\n", day.DayName, day.Date, meal)
				}
				return nil
			})
		},
	}
}

func newPlanSetCommand(rootOpts *RootOptions) *cobra.Command {
	var start string
	var meals []string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the plan with a new week",
		Long: `Replace the plan with the seven days starting at --start.
Meals are assigned with --meal day=recipe, where day is a weekday name or
a 1-7 offset and recipe is an id, id prefix or name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := time.Parse(dateLayout, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			return rootOpts.withSession(cmd, func(o *sync.Orchestrator) error {
				plan := newWeek(startDate)
				for _, m := range meals {
					day, ref, ok := strings.Cut(m, "=")
					if !ok {
						return fmt.Errorf("invalid --meal %q: expected day=recipe", m)
					}
					i, err := dayIndex(plan, day)
					if err != nil {
						return err
					}
					r, err := findRecipe(o, ref)
					if err != nil {
						return err
					}
					plan.Days[i].RecipeID = r.ID
				}

				if err := o.SetWeekplan(plan); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Plan set for week %s.\n", plan.WeekID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", time.Now().Format(dateLayout), "first day of the week (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&meals, "meal", nil, "assign a recipe to a day as day=recipe, repeatable")
	return cmd
}

// newWeek builds an empty seven-day plan identified by its ISO week
func newWeek(start time.Time) core.Weekplan {
	year, week := start.ISOWeek()
	plan := core.Weekplan{
		WeekID:    fmt.Sprintf("%d-W%02d", year, week),
		StartDate: start.Format(dateLayout),
		Days:      make([]core.DayEntry, core.DaysPerWeek),
	}
	for i := range plan.Days {
		d := start.AddDate(0, 0, i)
		plan.Days[i] = core.DayEntry{DayName: d.Weekday().String(), Date: d.Format(dateLayout)}
	}
	return plan
}

func dayIndex(plan core.Weekplan, day string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(day, "%d", &n); err == nil {
		if n < 1 || n > len(plan.Days) {
			return 0, fmt.Errorf("day %d out of range 1-%d", n, len(plan.Days))
		}
		return n - 1, nil
	}
	for i, d := range plan.Days {
		if strings.EqualFold(d.DayName, day) || strings.EqualFold(d.DayName[:3], day) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", day)
}
