package ami

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsNew(t *testing.T) {
	lastRun := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		img  *Image
		want bool
	}{
		{"nil image", nil, false},
		{"equal is new", &Image{CreationDate: "2024-03-01T12:00:00.000Z"}, true},
		{"later is new", &Image{CreationDate: "2024-03-01T12:00:01.000Z"}, true},
		{"earlier is old", &Image{CreationDate: "2024-03-01T11:59:59.999Z"}, false},
		{"offset honored", &Image{CreationDate: "2024-03-01T13:30:00+01:00"}, true},
		{"unparseable", &Image{CreationDate: "yesterday"}, false},
		{"empty date", &Image{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNew(tt.img, lastRun))
		})
	}
}

func TestSortByRecency(t *testing.T) {
	images := []Image{
		{ID: "ami-old", CreationDate: "2023-01-01T00:00:00.000Z"},
		{ID: "ami-bad", CreationDate: "garbage"},
		{ID: "ami-new", CreationDate: "2024-06-01T00:00:00.000Z"},
		{ID: "ami-mid", CreationDate: "2023-06-01T00:00:00.000Z"},
	}
	SortByRecency(images)

	var ids []string
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	assert.Equal(t, []string{"ami-new", "ami-mid", "ami-old", "ami-bad"}, ids)
}

func TestSortByRecency_UnparseableLast(t *testing.T) {
	images := []Image{
		{ID: "ami-a", CreationDate: "aaa"},
		{ID: "ami-empty", CreationDate: ""},
		{ID: "ami-valid", CreationDate: "2020-01-01T00:00:00.000Z"},
		{ID: "ami-z", CreationDate: "zzz"},
	}
	SortByRecency(images)

	var ids []string
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	assert.Equal(t, []string{"ami-valid", "ami-z", "ami-a", "ami-empty"}, ids)

	// The head is the only image the engine checks, so it must be the valid one.
	assert.True(t, IsNew(&images[0], time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFormatTags(t *testing.T) {
	assert.Equal(t, "a=1;b=2", FormatTags([]Tag{{"a", "1"}, {"b", "2"}}))
	assert.Equal(t, "", FormatTags(nil))
}
