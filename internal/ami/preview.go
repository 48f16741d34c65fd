package ami

import (
	"context"
	"fmt"
	"strings"
)

// MaxPreviewImages caps the images listed in a Preview.
const MaxPreviewImages = 10

// Preview is the result of running a filter once against a catalog.
type Preview struct {
	Filter   Filter      `json:"filter"`
	Criteria []Criterion `json:"criteria"`
	Skipped  []string    `json:"skipped_tags,omitempty"`
	Total    int         `json:"total"`
	Images   []Image     `json:"images"`
}

// PreviewFilter queries catalog with f and keeps the newest MaxPreviewImages results.
func PreviewFilter(ctx context.Context, catalog Catalog, f Filter) (*Preview, error) {
	criteria, skipped := f.QueryCriteria()
	images, err := catalog.ListImagesSortedByRecency(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	p := &Preview{
		Filter:   f,
		Criteria: criteria,
		Skipped:  skipped,
		Total:    len(images),
	}
	if len(images) > MaxPreviewImages {
		images = images[:MaxPreviewImages]
	}
	p.Images = images
	return p, nil
}

// Summary renders the preview as human-readable lines.
func (p *Preview) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d image(s) matching %s\n", p.Total, p.Filter)
	for _, s := range p.Skipped {
		fmt.Fprintf(&b, "  warning: ignored tag segment %q (expected key=value)\n", s)
	}
	if p.Total > len(p.Images) {
		fmt.Fprintf(&b, "Showing the %d most recent:\n", len(p.Images))
	}
	for _, img := range p.Images {
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n", img.CreationDate, img.ID, img.Name, img.Description)
	}
	return b.String()
}
