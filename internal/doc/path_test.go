package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathString(t *testing.T) {
	assert.Equal(t, "accounts/u1/projects", ProjectsPath("u1").String())
	assert.Equal(t, "accounts/u1/projects/p1", ProjectPath("u1", "p1").String())
	assert.Equal(t, "accounts/u1/projects/", ProjectPath("u1", "p1").Prefix())
}

func TestPathDocAndCollection(t *testing.T) {
	col := ProjectsPath("u1")
	p := col.Doc("p9")

	assert.False(t, p.IsCollection())
	assert.True(t, col.IsCollection())
	assert.Equal(t, col, p.CollectionPath())
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("accounts/u1/projects/p1")
	require.NoError(t, err)
	assert.Equal(t, ProjectPath("u1", "p1"), p)

	col, err := ParsePath("/accounts/u1/projects/")
	require.NoError(t, err)
	assert.Equal(t, ProjectsPath("u1"), col)
}

func TestParsePathInvalid(t *testing.T) {
	tests := []string{
		"",
		"accounts",
		"accounts/u1",
		"users/u1/projects",
		"accounts//projects",
		"accounts/u1/projects/p1/extra",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePath(in)
			require.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, ProjectPath("u1", "p1").Validate(true))
	require.NoError(t, ProjectsPath("u1").Validate(false))

	assert.ErrorIs(t, ProjectsPath("u1").Validate(true), ErrInvalidPath)
	assert.ErrorIs(t, ProjectPath("u1", "p1").Validate(false), ErrInvalidPath)
	assert.ErrorIs(t, ProjectPath("u/1", "p1").Validate(true), ErrInvalidPath)
	assert.ErrorIs(t, ProjectsPath("").Validate(false), ErrInvalidPath)
}
