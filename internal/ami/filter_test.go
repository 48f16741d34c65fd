package ami

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestQueryCriteria_EmptyFilter(t *testing.T) {
	criteria, skipped := Filter{}.QueryCriteria()
	assert.Equal(t, []Criterion{{Name: "state", Value: "available"}}, criteria)
	assert.Empty(t, skipped)
}

func TestQueryCriteria_AnyIsOmitted(t *testing.T) {
	f := Filter{
		Architecture: Any(),
		OwnerAlias:   Any(),
		Shared:       Any(),
		Name:         "ubuntu/*",
	}
	criteria, _ := f.QueryCriteria()
	for _, c := range criteria {
		assert.NotEqual(t, "architecture", c.Name)
		assert.NotEqual(t, "owner-alias", c.Name)
		assert.NotEqual(t, "is-public", c.Name)
	}
	assert.Equal(t, []Criterion{
		{Name: "state", Value: "available"},
		{Name: "name", Value: "ubuntu/*"},
	}, criteria)
}

func TestQueryCriteria_FullOrder(t *testing.T) {
	f := Filter{
		Architecture: Exactly("x86_64"),
		Description:  "Canonical*",
		Name:         "ubuntu/*",
		OwnerAlias:   Exactly("amazon"),
		OwnerID:      "099720109477",
		ProductCode:  "abc123",
		Tags:         "Project=jenkins;Owner=hudson",
		Shared:       Exactly("true"),
	}
	criteria, skipped := f.QueryCriteria()
	require.Empty(t, skipped)
	assert.Equal(t, []Criterion{
		{Name: "state", Value: "available"},
		{Name: "architecture", Value: "x86_64"},
		{Name: "owner-alias", Value: "amazon"},
		{Name: "is-public", Value: "true"},
		{Name: "description", Value: "Canonical*"},
		{Name: "name", Value: "ubuntu/*"},
		{Name: "owner-id", Value: "099720109477"},
		{Name: "product-code", Value: "abc123"},
		{Name: "tag:Project", Value: "jenkins"},
		{Name: "tag:Owner", Value: "hudson"},
	}, criteria)
}

func TestQueryCriteria_Tags(t *testing.T) {
	tests := []struct {
		name    string
		tags    string
		want    []Criterion
		skipped []string
	}{
		{
			name: "two pairs",
			tags: "k1=v1;k2=v2",
			want: []Criterion{{Name: "tag:k1", Value: "v1"}, {Name: "tag:k2", Value: "v2"}},
		},
		{
			name:    "malformed segment dropped",
			tags:    "bad;k=v",
			want:    []Criterion{{Name: "tag:k", Value: "v"}},
			skipped: []string{"bad"},
		},
		{
			name: "split on first equals",
			tags: "expr=a=b",
			want: []Criterion{{Name: "tag:expr", Value: "a=b"}},
		},
		{
			name: "empty value",
			tags: "k=",
			want: []Criterion{{Name: "tag:k", Value: ""}},
		},
		{
			name: "trailing separator",
			tags: "k=v;",
			want: []Criterion{{Name: "tag:k", Value: "v"}},
		},
		{
			name:    "empty segments dropped silently",
			tags:    ";a=1;;bad;",
			want:    []Criterion{{Name: "tag:a", Value: "1"}},
			skipped: []string{"bad"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			criteria, skipped := Filter{Tags: tt.tags}.QueryCriteria()
			require.NotEmpty(t, criteria)
			assert.Equal(t, Criterion{Name: "state", Value: "available"}, criteria[0])
			assert.Equal(t, tt.want, criteria[1:])
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestParseChoice(t *testing.T) {
	assert.True(t, ParseChoice("").IsUnset())
	assert.True(t, ParseChoice("any").IsAny())
	assert.True(t, ParseChoice("ANY").IsAny())
	assert.True(t, ParseChoice("- any -").IsAny())

	v, ok := ParseChoice(" arm64 ").Value()
	assert.True(t, ok)
	assert.Equal(t, "arm64", v)

	_, ok = Any().Value()
	assert.False(t, ok)
	assert.True(t, Exactly("").IsUnset())
}

func TestFilter_YAML(t *testing.T) {
	src := `
name: "amzn2-ami-hvm-*"
architecture: any
owner_alias: amazon
shared: "false"
tags: "Env=prod"
`
	var f Filter
	require.NoError(t, yaml.Unmarshal([]byte(src), &f))
	assert.True(t, f.Architecture.IsAny())
	assert.Equal(t, "amazon", f.OwnerAlias.String())
	assert.Equal(t, "false", f.Shared.String())
	assert.Equal(t, "amzn2-ami-hvm-*", f.Name)

	out, err := yaml.Marshal(f)
	require.NoError(t, err)
	var back Filter
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, f, back)
}

func TestFilter_String(t *testing.T) {
	f := Filter{Name: "ubuntu/*", Architecture: Any()}
	assert.Equal(t,
		"Filter[architecture=any,description=<null>,name=ubuntu/*,ownerAlias=<null>,ownerId=<null>,productCode=<null>,tags=<null>,shared=<null>]",
		f.String())
}
