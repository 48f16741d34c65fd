// internal/ami/filter.go
package ami

import (
	"strings"
)

// Criterion is a single name/value constraint on an image query.
type Criterion struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (c Criterion) String() string {
	return c.Name + "=" + c.Value
}

// Filter describes the images a trigger is interested in. Empty fields are
// ignored when building a query.
type Filter struct {
	Architecture Choice `yaml:"architecture" json:"architecture"`
	Description  string `yaml:"description" json:"description"`
	Name         string `yaml:"name" json:"name"`
	OwnerAlias   Choice `yaml:"owner_alias" json:"owner_alias"`
	OwnerID      string `yaml:"owner_id" json:"owner_id"`
	ProductCode  string `yaml:"product_code" json:"product_code"`
	// Tags uses the key=value;key=value form.
	Tags   string `yaml:"tags" json:"tags"`
	Shared Choice `yaml:"shared" json:"shared"`
}

// QueryCriteria translates the filter into catalog criteria. The order is
// fixed: state, choice fields, plain fields, then one criterion per tag.
// Tag segments without a '=' are skipped and returned so the caller can
// report them.
func (f Filter) QueryCriteria() (criteria []Criterion, skipped []string) {
	criteria = append(criteria, Criterion{Name: "state", Value: "available"})

	for _, c := range []struct {
		name   string
		choice Choice
	}{
		{"architecture", f.Architecture},
		{"owner-alias", f.OwnerAlias},
		{"is-public", f.Shared},
	} {
		if v, ok := c.choice.Value(); ok {
			criteria = append(criteria, Criterion{Name: c.name, Value: v})
		}
	}

	for _, p := range []struct {
		name  string
		value string
	}{
		{"description", f.Description},
		{"name", f.Name},
		{"owner-id", f.OwnerID},
		{"product-code", f.ProductCode},
	} {
		if p.value != "" {
			criteria = append(criteria, Criterion{Name: p.name, Value: p.value})
		}
	}

	tags, skipped := ParseTags(f.Tags)
	for _, t := range tags {
		criteria = append(criteria, Criterion{Name: "tag:" + t.Key, Value: t.Value})
	}

	return criteria, skipped
}

// ParseTags splits a key=value;key=value string. Each segment is split on its
// first '='; segments without one are returned in skipped. Empty segments,
// such as the one after a trailing ';', are dropped.
func ParseTags(s string) (tags []Tag, skipped []string) {
	if s == "" {
		return nil, nil
	}
	for _, segment := range strings.Split(s, ";") {
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			skipped = append(skipped, segment)
			continue
		}
		tags = append(tags, Tag{Key: key, Value: value})
	}
	return tags, skipped
}

// String renders the filter in Filter[field=value,...] form for logs.
func (f Filter) String() string {
	var b strings.Builder
	b.WriteString("Filter[")
	fields := []struct{ k, v string }{
		{"architecture", f.Architecture.String()},
		{"description", f.Description},
		{"name", f.Name},
		{"ownerAlias", f.OwnerAlias.String()},
		{"ownerId", f.OwnerID},
		{"productCode", f.ProductCode},
		{"tags", f.Tags},
		{"shared", f.Shared.String()},
	}
	for i, kv := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv.k)
		b.WriteByte('=')
		if kv.v == "" {
			b.WriteString("<null>")
		} else {
			b.WriteString(kv.v)
		}
	}
	b.WriteByte(']')
	return b.String()
}
