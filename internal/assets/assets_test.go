package assets

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestCategoryMatches(t *testing.T) {
	materials := Category{Name: "materials", Extensions: []string{".vmt", ".vtf"}}

	tests := []struct {
		path string
		want bool
	}{
		{"materials/brick.vmt", true},
		{"materials/brick.VTF", true},
		{"materials/brick.png", false},
		{"materials/vmt", false},
		{"materials/brick.vmt.bak", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, materials.Matches(tt.path))
		})
	}
}

func TestDiscover(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/game/pak01"
	for _, p := range []string{
		"materials/z/last.vmt",
		"materials/b.vtf",
		"materials/a.vmt",
		"materials/readme.md",
		"materials/sub/c.VMT",
	} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, p), []byte(p), 0644))
	}

	files, err := Discover(fs, root, Category{Name: "materials", Extensions: []string{".vmt", ".vtf"}})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "materials/a.vmt"),
		filepath.Join(root, "materials/b.vtf"),
		filepath.Join(root, "materials/sub/c.VMT"),
		filepath.Join(root, "materials/z/last.vmt"),
	}, files)
}

func TestDiscover_OrdersByPathComponent(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/game/pak01"
	for _, p := range []string{
		"materials/a-b.vmt",
		"materials/a/x.vmt",
		"materials/a.b/y.vmt",
		"materials/a0.vmt",
	} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, p), []byte(p), 0644))
	}

	files, err := Discover(fs, root, Category{Name: "materials", Extensions: []string{".vmt"}})
	require.NoError(t, err)

	// Byte order of the full path would put "a-b.vmt" and "a.b/" before "a/"
	require.Equal(t, []string{
		filepath.Join(root, "materials/a/x.vmt"),
		filepath.Join(root, "materials/a-b.vmt"),
		filepath.Join(root, "materials/a.b/y.vmt"),
		filepath.Join(root, "materials/a0.vmt"),
	}, files)
}

func TestLessByComponent(t *testing.T) {
	require.True(t, lessByComponent("a/x", "a-b"))
	require.False(t, lessByComponent("a-b", "a/x"))
	require.True(t, lessByComponent("a", "a/x"))
	require.False(t, lessByComponent("a/x", "a/x"))
}

func TestDiscover_MissingCategory(t *testing.T) {
	files, err := Discover(afero.NewMemMapFs(), "/game/pak01", Category{Name: "shaders", Extensions: []string{".vcs"}})
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(DefaultCategories()))

	tests := []struct {
		name       string
		categories []Category
	}{
		{"empty", nil},
		{"no name", []Category{{Extensions: []string{".vmt"}}}},
		{"nested name", []Category{{Name: "a/b", Extensions: []string{".vmt"}}}},
		{"duplicate", []Category{
			{Name: "models", Extensions: []string{".mdl"}},
			{Name: "models", Extensions: []string{".vvd"}},
		}},
		{"no extensions", []Category{{Name: "models"}}},
		{"bad extension", []Category{{Name: "models", Extensions: []string{"mdl"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, Validate(tt.categories))
		})
	}
}

func TestDestPath(t *testing.T) {
	got, err := DestPath("/game/pak01", filepath.Join("/game/pak01", "models", "c.mdl"))
	require.NoError(t, err)
	require.Equal(t, "models/c.mdl", got)
}
