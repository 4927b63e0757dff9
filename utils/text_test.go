package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClipRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short_unchanged", in: "武梁祠", max: 5, want: "武梁祠"},
		{name: "cjk_cut_by_rune", in: "车马出行图", max: 2, want: "车马"},
		{name: "trims_space", in: "  abc  ", max: 10, want: "abc"},
		{name: "zero_max_keeps_all", in: "abcdef", max: 0, want: "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClipRunes(tt.in, tt.max))
		})
	}
}

func TestClipWithEllipsis(t *testing.T) {
	assert.Equal(t, "车马…", ClipWithEllipsis("车马出行图", 2))
	assert.Equal(t, "车马", ClipWithEllipsis("车马", 2))
}

func TestIsImageReference(t *testing.T) {
	assert.True(t, IsImageReference("data:image/png;base64,AAAA"))
	assert.True(t, IsImageReference("https://example.org/a.webp"))
	assert.False(t, IsImageReference("data:text/plain;base64,AAAA"))
	assert.False(t, IsImageReference("javascript:alert(1)"))
	assert.False(t, IsImageReference(""))
}
