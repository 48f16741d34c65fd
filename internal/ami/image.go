// internal/ami/image.go
package ami

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProductCode identifies a marketplace product attached to an image.
type ProductCode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Tag is a key/value pair attached to an image.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Image is a read-only view of a catalog entry.
type Image struct {
	ID           string        `json:"id"`
	CreationDate string        `json:"creation_date"`
	Description  string        `json:"description,omitempty"`
	Architecture string        `json:"architecture,omitempty"`
	Hypervisor   string        `json:"hypervisor,omitempty"`
	Type         string        `json:"type,omitempty"`
	Name         string        `json:"name,omitempty"`
	OwnerAlias   string        `json:"owner_alias,omitempty"`
	OwnerID      string        `json:"owner_id,omitempty"`
	ProductCodes []ProductCode `json:"product_codes,omitempty"`
	Tags         []Tag         `json:"tags,omitempty"`
	// Public is nil when the catalog did not report visibility.
	Public *bool `json:"public,omitempty"`
}

// CreatedAt parses CreationDate as an absolute instant.
func (img Image) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, img.CreationDate)
}

// IsNew reports whether img was created at or after lastRun. An image whose
// creation date cannot be parsed is never new.
func IsNew(img *Image, lastRun time.Time) bool {
	if img == nil {
		return false
	}
	created, err := img.CreatedAt()
	if err != nil {
		return false
	}
	return !created.Before(lastRun)
}

// SortByRecency orders images newest first. Images whose dates parse to the
// same instant keep reverse order of the raw strings. Images with an
// unparseable date go last, also in reverse raw-string order, so they never
// hide a newer valid image at the head.
func SortByRecency(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		a, errA := images[i].CreatedAt()
		b, errB := images[j].CreatedAt()
		switch {
		case errA == nil && errB != nil:
			return true
		case errA != nil && errB == nil:
			return false
		case errA == nil && !a.Equal(b):
			return a.After(b)
		}
		return images[i].CreationDate > images[j].CreationDate
	})
}

func formatProductCodes(codes []ProductCode) string {
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, c.ID+":"+c.Type)
	}
	return strings.Join(parts, ",")
}

// FormatTags renders tags in the key=value;key=value form used by filters.
func FormatTags(tags []Tag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.Key+"="+t.Value)
	}
	return strings.Join(parts, ";")
}

func formatPublic(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}
