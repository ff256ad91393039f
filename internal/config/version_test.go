package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveVersionExact(t *testing.T) {
	t.Parallel()

	available := []string{"1.0.0", "1.2.0", "2.0.0"}

	got, err := ResolveVersion("1.2.0", available)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", got)

	_, err = ResolveVersion("1.3.0", available)
	require.ErrorAs(t, err, &ErrNoMatchingVersion{})
}

func TestResolveVersionLatest(t *testing.T) {
	t.Parallel()

	available := []string{"1.0.0", "2.1.0", "2.0.0"}

	for _, want := range []string{"latest", ""} {
		got, err := ResolveVersion(want, available)
		require.NoError(t, err)
		require.Equal(t, "2.1.0", got)
	}
}

func TestResolveVersionRangeSelectsHighestSatisfying(t *testing.T) {
	t.Parallel()

	available := []string{"1.0.0", "1.4.2", "1.9.0", "2.0.0"}

	got, err := ResolveVersion("^1.2.0", available)
	require.NoError(t, err)
	require.Equal(t, "1.9.0", got)

	got, err = ResolveVersion(">=1.0.0 <1.5.0", available)
	require.NoError(t, err)
	require.Equal(t, "1.4.2", got)
}

func TestResolveVersionIgnoresUnparsableEntries(t *testing.T) {
	t.Parallel()

	got, err := ResolveVersion("latest", []string{"not-semver", "1.0.0"})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", got)
}

func TestResolveVersionEmptyAvailable(t *testing.T) {
	t.Parallel()

	_, err := ResolveVersion("latest", nil)
	require.ErrorAs(t, err, &ErrNoMatchingVersion{})
}

func TestResolveVersionInvalidExpression(t *testing.T) {
	t.Parallel()

	_, err := ResolveVersion("!!nonsense!!", []string{"1.0.0"})
	require.Error(t, err)
}
