package nspath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"root":            {"/", "/", false},
		"simple":          {"/a/b", "/a/b", false},
		"dir form":        {"/a/b/", "/a/b", false},
		"no leading slash": {"a/b", "", true},
		"empty component":  {"/a//b", "", true},
		"dot":              {"/a/./b", "", true},
		"dotdot":           {"/a/../b", "", true},
		"too long":         {"/" + strings.Repeat("a", 5000), "", true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Validate(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParent(t *testing.T) {
	p, ok := Parent("/a/b/c")
	require.True(t, ok)
	require.Equal(t, "/a/b", p)

	p, ok = Parent("/a")
	require.True(t, ok)
	require.Equal(t, "/", p)

	_, ok = Parent("/")
	require.False(t, ok)
}

func TestHasPrefix(t *testing.T) {
	require.True(t, HasPrefix("/ws/sub/doc.txt", "/ws"))
	require.True(t, HasPrefix("/ws", "/ws"))
	require.False(t, HasPrefix("/ws2/doc.txt", "/ws"))
	require.True(t, HasPrefix("/anything", "/"))
}
