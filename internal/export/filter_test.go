package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFilterMatch(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{"no patterns admit everything", nil, nil, "Page 1/Hero", true},
		{"include match", []string{"Page 1/**"}, nil, "Page 1/Cards/Card", true},
		{"include miss", []string{"Page 1/**"}, nil, "Page 2/Hero", false},
		{"exclude only", nil, []string{"Archive/**"}, "Archive/Old", false},
		{"exclude only pass", nil, []string{"Archive/**"}, "Page 1/Hero", true},
		{"exclude beats include", []string{"**"}, []string{"**/Draft*"}, "Page 1/Draft Hero", false},
		{"top-level name", []string{"**/Hero"}, nil, "Hero", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewPathFilter(tt.include, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.path))
		})
	}
}

func TestPathFilterNilAdmitsEverything(t *testing.T) {
	var f *PathFilter
	assert.True(t, f.Match("anything/at/all"))
}

func TestPathFilterRejectsInvalidPattern(t *testing.T) {
	_, err := NewPathFilter([]string{"["}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path pattern")

	_, err = NewPathFilter(nil, []string{"["})
	assert.Error(t, err)
}
