package ingestion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesFiltersIncludeOnly(t *testing.T) {
	includes, err := compileGlobs([]string{"*.safetensors", "*.json"})
	require.NoError(t, err)

	require.True(t, matchesFilters("model.safetensors", includes, nil))
	require.True(t, matchesFilters("config.json", includes, nil))
	require.False(t, matchesFilters("README.md", includes, nil))
}

func TestMatchesFiltersExcludeWins(t *testing.T) {
	includes, err := compileGlobs([]string{"*"})
	require.NoError(t, err)
	excludes, err := compileGlobs([]string{"*.md", "tests/*"})
	require.NoError(t, err)

	require.False(t, matchesFilters("README.md", includes, excludes))
	require.False(t, matchesFilters("tests/unit.py", includes, excludes))
	require.True(t, matchesFilters("model.bin", includes, excludes))
}

func TestMatchesFiltersNoIncludesMeansAllowAll(t *testing.T) {
	excludes, err := compileGlobs([]string{"*.md"})
	require.NoError(t, err)

	require.True(t, matchesFilters("model.bin", nil, excludes))
	require.False(t, matchesFilters("README.md", nil, excludes))
}

func TestCompileGlobsRejectsInvalidPattern(t *testing.T) {
	_, err := compileGlobs([]string{"["})
	require.Error(t, err)
}
