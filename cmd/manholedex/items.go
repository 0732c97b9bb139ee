package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/service"
)

func newItemsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Add, list and edit catalogued covers",
	}
	cmd.AddCommand(
		newItemsAddCmd(a),
		newItemsListCmd(a),
		newItemsShowCmd(a),
		newItemsUpdateCmd(a),
		newItemsFavoriteCmd(a),
		newItemsDeleteCmd(a),
		newItemsDupesCmd(a),
	)
	return cmd
}

func newItemsAddCmd(a *app) *cobra.Command {
	var (
		memo           string
		favorite       bool
		crop           string
		lat, lng       float64
		taken          string
		useModTime     bool
		allowDuplicate bool
	)
	cmd := &cobra.Command{
		Use:   "add <region-id> <photo>",
		Short: "Add a photo to a region",
		Long: `Add compresses the photo at the configured tier, cuts a square thumbnail and
stores both with a new item.

The capture date is taken from --taken, then from the file modification time
when --use-mtime is set, and falls back to now.`,
		Example: `  manholedex items add 13 cover.jpg --memo "Shinjuku"
  manholedex items add 01 cover.png --crop 0.1,0.1,0.5,0.5 --lat 43.06 --lng 141.35`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read photo: %w", err)
			}
			in := service.AddItemInput{Memo: memo, IsFavorite: favorite, AllowDuplicate: allowDuplicate}
			if crop != "" {
				if in.Crop, err = parseCrop(crop); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				in.Location = &domain.Location{Latitude: lat, Longitude: lng}
			}
			switch {
			case taken != "":
				if in.TakenAt, err = parseDate(taken); err != nil {
					return err
				}
			case useModTime:
				info, err := os.Stat(args[1])
				if err != nil {
					return fmt.Errorf("failed to stat photo: %w", err)
				}
				in.TakenAt = info.ModTime()
			}

			item, err := a.catalog.AddItem(cmd.Context(), args[0], src, in)
			if err != nil {
				return err
			}
			return a.print(cmd, newItemView(item), func(p *printer) {
				p.line("Added item %s to region %s", item.ID, item.RegionID)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&memo, "memo", "", "free-text note")
	f.BoolVar(&favorite, "favorite", false, "mark as favorite")
	f.StringVar(&crop, "crop", "", "thumbnail crop as x,y,width,height fractions")
	f.Float64Var(&lat, "lat", 0, "latitude")
	f.Float64Var(&lng, "lng", 0, "longitude")
	f.StringVar(&taken, "taken", "", "capture date (YYYY-MM-DD or RFC 3339)")
	f.BoolVar(&useModTime, "use-mtime", false, "use the file modification time as capture date")
	f.BoolVar(&allowDuplicate, "allow-duplicate", false, "add even if the photo is already catalogued")
	return cmd
}

func newItemsListCmd(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				items []*domain.Item
				err   error
			)
			if region != "" {
				items, err = a.catalog.ListRegionItems(cmd.Context(), region)
			} else {
				items, err = a.catalog.ListItems(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.print(cmd, itemViews(items), func(p *printer) {
				if len(items) == 0 {
					p.line("No items found.")
					return
				}
				p.row("ID", "REGION", "TAKEN", "FAV", "MEMO")
				for _, item := range items {
					fav := ""
					if item.IsFavorite {
						fav = "*"
					}
					p.row(shortID(item.ID), item.RegionID, formatDate(&item.TakenAt), fav, truncate(item.Memo, 40))
				}
				p.flush()
				p.line("Total: %d item(s)", len(items))
			})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "only items in this region")
	return cmd
}

func newItemsShowCmd(a *app) *cobra.Command {
	var thumbOut string
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := a.catalog.GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if thumbOut != "" {
				if err := os.WriteFile(thumbOut, item.Thumbnail.Data, 0644); err != nil {
					return fmt.Errorf("failed to write thumbnail: %w", err)
				}
			}
			return a.print(cmd, newItemView(item), func(p *printer) {
				p.row("ID", item.ID)
				p.row("Region", item.RegionID)
				p.row("Taken", item.TakenAt.Local().Format(time.RFC3339))
				p.row("Memo", item.Memo)
				p.row("Favorite", strconv.FormatBool(item.IsFavorite))
				if item.Location != nil {
					p.row("Location", fmt.Sprintf("%.6f,%.6f", item.Location.Latitude, item.Location.Longitude))
				}
				switch c := item.Crop.(type) {
				case domain.SquareCrop:
					p.row("Crop", fmt.Sprintf("%.3f,%.3f size %.3f (legacy)", c.X, c.Y, c.Size))
				case domain.RectCrop:
					p.row("Crop", fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", c.X, c.Y, c.Width, c.Height))
				}
				p.row("Primary", fmt.Sprintf("%d bytes", len(item.PrimaryImage.Data)))
				p.row("Thumbnail", fmt.Sprintf("%d bytes", len(item.Thumbnail.Data)))
				p.flush()
			})
		},
	}
	cmd.Flags().StringVar(&thumbOut, "thumbnail-out", "", "write the thumbnail JPEG to this path")
	return cmd
}

func newItemsUpdateCmd(a *app) *cobra.Command {
	var (
		memo     string
		favorite bool
	)
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Change an item's memo or favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			item, err := a.catalog.GetItem(ctx, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("memo") {
				item.Memo = memo
			}
			if cmd.Flags().Changed("favorite") {
				item.IsFavorite = favorite
			}
			updated, err := a.catalog.UpdateItem(ctx, item.ID, item.Memo, item.IsFavorite)
			if err != nil {
				return err
			}
			return a.print(cmd, newItemView(updated), func(p *printer) {
				p.line("Updated item %s", updated.ID)
			})
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "new memo")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "favorite flag")
	return cmd
}

func newItemsFavoriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <item-id>",
		Short: "Toggle an item's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := a.catalog.ToggleFavorite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]bool{"isFavorite": on}, func(p *printer) {
				p.line("Favorite: %t", on)
			})
		},
	}
}

func newItemsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete an item and its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.catalog.DeleteItem(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"deleted": args[0]}, func(p *printer) {
				p.line("Deleted item %s", args[0])
			})
		},
	}
}

func newItemsDupesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dupes <photo>",
		Short: "List items whose photo looks the same",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read photo: %w", err)
			}
			items, err := a.catalog.FindDuplicates(cmd.Context(), src)
			if err != nil {
				return err
			}
			return a.print(cmd, itemViews(items), func(p *printer) {
				if len(items) == 0 {
					p.line("No matching items.")
				}
				for _, item := range items {
					p.line("%s (region %s)", item.ID, item.RegionID)
				}
			})
		},
	}
}

func newThumbnailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thumbnail",
		Short: "Manage item thumbnails",
	}
	var crop string
	regen := &cobra.Command{
		Use:   "regen <item-id>",
		Short: "Cut a new thumbnail from the stored photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rect *domain.RectCrop
			if crop != "" {
				var err error
				if rect, err = parseCrop(crop); err != nil {
					return err
				}
			}
			item, err := a.catalog.RegenerateThumbnail(cmd.Context(), args[0], rect)
			if err != nil {
				return err
			}
			return a.print(cmd, newItemView(item), func(p *printer) {
				p.line("Regenerated thumbnail for %s", item.ID)
			})
		},
	}
	regen.Flags().StringVar(&crop, "crop", "", "crop as x,y,width,height fractions (default: the item's stored crop)")
	cmd.AddCommand(regen)
	return cmd
}

func newImagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Maintain stored images",
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Re-encode every stored image that is not JPEG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.catalog.MigrateImageFormats(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]int{"migrated": n}, func(p *printer) {
				p.line("Migrated %d image(s)", n)
			})
		},
	}
	cmd.AddCommand(migrate)
	return cmd
}

func parseCrop(s string) (*domain.RectCrop, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid crop %q: want x,y,width,height", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid crop %q: %w", s, err)
		}
		v[i] = f
	}
	return &domain.RectCrop{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
