package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/manholedex/internal/domain"
)

// printer writes human-readable output. Rows are aligned with a tabwriter
// and must be flushed.
type printer struct {
	out io.Writer
	tw  *tabwriter.Writer
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) row(cols ...string) {
	if p.tw == nil {
		p.tw = tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	}
	fmt.Fprintln(p.tw, strings.Join(cols, "\t"))
}

func (p *printer) flush() {
	if p.tw != nil {
		_ = p.tw.Flush()
	}
}

// print writes v as indented JSON when --json is set and calls human
// otherwise.
func (a *app) print(cmd *cobra.Command, v any, human func(p *printer)) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	p := &printer{out: out}
	human(p)
	p.flush()
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

// itemView is an item without its image bytes.
type itemView struct {
	ID             string           `json:"id"`
	RegionID       string           `json:"regionId"`
	Memo           string           `json:"memo,omitempty"`
	TakenAt        time.Time        `json:"takenAt"`
	IsFavorite     bool             `json:"isFavorite"`
	Crop           *domain.RectCrop `json:"crop,omitempty"`
	Location       *domain.Location `json:"location,omitempty"`
	ImageHash      string           `json:"imageHash,omitempty"`
	PrimaryBytes   int              `json:"primaryBytes"`
	ThumbnailBytes int              `json:"thumbnailBytes"`
}

func newItemView(item *domain.Item) itemView {
	v := itemView{
		ID:         item.ID,
		RegionID:   item.RegionID,
		Memo:       item.Memo,
		TakenAt:    item.TakenAt,
		IsFavorite: item.IsFavorite,
		Location:   item.Location,
		ImageHash:  item.ImageHash,
	}
	if item.Crop != nil {
		rect := item.Crop.Rect()
		v.Crop = &rect
	}
	if item.PrimaryImage != nil {
		v.PrimaryBytes = len(item.PrimaryImage.Data)
	}
	if item.Thumbnail != nil {
		v.ThumbnailBytes = len(item.Thumbnail.Data)
	}
	return v
}

func itemViews(items []*domain.Item) []itemView {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	return views
}
