package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveKnownRegions(t *testing.T) {
	t.Parallel()

	r, ok := Resolve("Москва")
	require.True(t, ok)
	require.Equal(t, Region{Key: 213, Index: 1}, r)

	r, ok = Resolve("москва")
	require.True(t, ok)
	require.Equal(t, Region{Key: 213, Index: 1}, r)

	r, ok = Resolve("  Санкт-Петербург ")
	require.True(t, ok)
	require.Equal(t, 2, r.Key)
}

func TestResolveUnknownRegion(t *testing.T) {
	t.Parallel()

	_, ok := Resolve("Atlantis")
	require.False(t, ok)

	_, ok = Resolve("")
	require.False(t, ok)
}
