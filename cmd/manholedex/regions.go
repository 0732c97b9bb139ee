package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create any missing prefecture records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.catalog.SeedRegions(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]int{"inserted": n}, func(p *printer) {
				p.line("Seeded %d region(s)", n)
			})
		},
	}
}

func newRegionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List regions and set collection targets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List visible regions with their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := a.catalog.RegionSummaries(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, summaries, func(p *printer) {
				p.row("ID", "NAME", "ITEMS", "TARGET", "DONE", "LAST")
				for _, s := range summaries {
					target, done := "-", "-"
					if s.HasTarget {
						target = strconv.Itoa(*s.TargetCount)
						done = fmt.Sprintf("%d%%", s.CompletionPercent)
					}
					p.row(s.ID, s.Name, strconv.Itoa(s.ItemCount), target, done, formatDate(s.LastItemDate))
				}
				p.flush()
			})
		},
	}

	var clear bool
	target := &cobra.Command{
		Use:   "target <region-id> [count]",
		Short: "Set or clear the number of covers to collect in a region",
		Example: `  manholedex regions target 13 40
  manholedex regions target 13 --clear`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var count *int
			switch {
			case clear:
			case len(args) == 2:
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid target %q: %w", args[1], err)
				}
				count = &n
			default:
				return fmt.Errorf("give a target count or --clear")
			}
			region, err := a.catalog.SetRegionTarget(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			return a.print(cmd, region, func(p *printer) {
				if region.TargetCount == nil {
					p.line("Cleared target for %s", region.Name)
					return
				}
				p.line("Target for %s set to %d", region.Name, *region.TargetCount)
			})
		},
	}
	target.Flags().BoolVar(&clear, "clear", false, "remove the target")

	cmd.AddCommand(list, target)
	return cmd
}

func newHideCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "hide [region-id...]",
		Short: "Hide regions from the region list",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, id := range args {
				if _, err := a.catalog.GetRegion(ctx, id); err != nil {
					return fmt.Errorf("failed to hide region %s: %w", id, err)
				}
			}
			for _, id := range args {
				if err := a.hidden.Hide(ctx, id); err != nil {
					return err
				}
			}
			if !list && len(args) > 0 {
				return nil
			}
			ids, err := a.hidden.List(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd, ids, func(p *printer) {
				if len(ids) == 0 {
					p.line("No hidden regions.")
				}
				for _, id := range ids {
					p.line("%s", id)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the hidden set afterwards")
	return cmd
}

func newUnhideCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unhide [region-id...]",
		Short: "Show hidden regions again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all {
				return a.hidden.Clear(ctx)
			}
			if len(args) == 0 {
				return fmt.Errorf("give region ids or --all")
			}
			for _, id := range args {
				if err := a.hidden.Unhide(ctx, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "unhide every region")
	return cmd
}
