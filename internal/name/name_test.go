package name

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Name{
		{Value: "hello"},
		{Dir: "foo/bar/"},
		{Dir: "foo/", Type: "cxx", Value: "baz"},
		{Type: "obj", Value: "thing"},
		{Project: "proj", Value: "hello"},
	}
	for _, n := range cases {
		s := n.String()
		got, err := ToName(s)
		require.NoError(t, err, "ToName(%q)", s)
		assert.Equal(t, n, got, "round trip mismatch for %#v: string=%q", n, s)
	}
}

func TestNormalizeDir(t *testing.T) {
	assert.Equal(t, "", NormalizeDir(""), "empty dir should stay empty")
	assert.Equal(t, "foo/bar/", NormalizeDir("foo/bar"))
	assert.Equal(t, "bar/", NormalizeDir("./foo/../bar/"))
}

func TestJoinRejectsAbsolute(t *testing.T) {
	_, err := Join("foo", "/etc/passwd")
	assert.Error(t, err, "expected invalid_path error")
}

func TestIsSimple(t *testing.T) {
	assert.True(t, (Name{Value: "x"}).IsSimple(), "expected simple")
	assert.False(t, (Name{Dir: "a/", Value: "x"}).IsSimple(), "expected not simple")
}
