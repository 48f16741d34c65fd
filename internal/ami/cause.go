// internal/ami/cause.go
package ami

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SummaryPrefix starts every Cause summary.
const SummaryPrefix = "Triggered by new AMI(s): "

// Environment variable name stems. Each is suffixed with the 1-based match position.
const (
	VarCount = "awsAmiTriggerCount"

	imagePrefix  = "awsAmiTriggerImage"
	filterPrefix = "awsAmiTriggerFilter"
)

// Match pairs the filter that fired with the image it selected.
type Match struct {
	Filter Filter `json:"filter"`
	Image  Image  `json:"image"`
}

// Cause collects the matches of one evaluation pass. It is not safe for
// concurrent use while the pass is still adding matches.
type Cause struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	CreatedAt time.Time `json:"created_at"`
	Matches   []Match   `json:"matches"`
}

// NewCause returns an empty Cause for trigger with a fresh pass ID.
func NewCause(trigger string, now time.Time) *Cause {
	return &Cause{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		CreatedAt: now,
	}
}

// AddMatch appends a match. Matches keep insertion order.
func (c *Cause) AddMatch(f Filter, img Image) {
	c.Matches = append(c.Matches, Match{Filter: f, Image: img})
}

func (c *Cause) HasMatches() bool {
	return len(c.Matches) > 0
}

// ImageIDs returns the matched image IDs in match order.
func (c *Cause) ImageIDs() []string {
	ids := make([]string, 0, len(c.Matches))
	for _, m := range c.Matches {
		ids = append(ids, m.Image.ID)
	}
	return ids
}

// ShortSummary is a one-line description of the pass, suitable for build history.
func (c *Cause) ShortSummary() string {
	return SummaryPrefix + strings.Join(c.ImageIDs(), ",")
}

// ExportVariables flattens the matches into positional variables for the
// action environment. The count is only present when there is a match.
func (c *Cause) ExportVariables() Variables {
	var vars Variables
	if len(c.Matches) == 0 {
		return vars
	}
	vars.Set(VarCount, strconv.Itoa(len(c.Matches)))

	for i, m := range c.Matches {
		n := strconv.Itoa(i + 1)
		img := m.Image
		vars.Set(imagePrefix+"Architecture"+n, img.Architecture)
		vars.Set(imagePrefix+"CreationDate"+n, img.CreationDate)
		vars.Set(imagePrefix+"Description"+n, img.Description)
		vars.Set(imagePrefix+"Hypervisor"+n, img.Hypervisor)
		vars.Set(imagePrefix+"Id"+n, img.ID)
		vars.Set(imagePrefix+"Type"+n, img.Type)
		vars.Set(imagePrefix+"Name"+n, img.Name)
		vars.Set(imagePrefix+"OwnerAlias"+n, img.OwnerAlias)
		vars.Set(imagePrefix+"OwnerId"+n, img.OwnerID)
		vars.Set(imagePrefix+"ProductCodes"+n, formatProductCodes(img.ProductCodes))
		vars.Set(imagePrefix+"Tags"+n, FormatTags(img.Tags))
		vars.Set(imagePrefix+"IsPublic"+n, formatPublic(img.Public))

		f := m.Filter
		vars.Set(filterPrefix+"Architecture"+n, f.Architecture.String())
		vars.Set(filterPrefix+"Description"+n, f.Description)
		vars.Set(filterPrefix+"Name"+n, f.Name)
		vars.Set(filterPrefix+"OwnerAlias"+n, f.OwnerAlias.String())
		vars.Set(filterPrefix+"OwnerId"+n, f.OwnerID)
		vars.Set(filterPrefix+"ProductCode"+n, f.ProductCode)
		vars.Set(filterPrefix+"Tags"+n, f.Tags)
		vars.Set(filterPrefix+"IsPublic"+n, f.Shared.String())
	}
	return vars
}
