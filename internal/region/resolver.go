// Package region maps human-readable region names to the provider's
// routing key and display index. The table is static; the resolver holds no
// state and is safe for concurrent use.
package region

import "strings"

// Region carries the two identifiers the provider requires for one locale:
// the search-engine routing key and the index used in result data keys.
type Region struct {
	Key   int
	Index int
}

// Lookups are case-insensitive over the canonical table below. The original
// deployment tracked Russian cities only; extend the table as projects grow.
var regions = map[string]Region{
	"москва":          {Key: 213, Index: 1},
	"санкт-петербург": {Key: 2, Index: 2},
	"новосибирск":     {Key: 154, Index: 3},
	"екатеринбург":    {Key: 159, Index: 4},
}

// Resolve returns the provider identifiers for a region name. The boolean is
// false when the region is unknown; callers must treat that as an input
// error, not fall back to a default.
func Resolve(name string) (Region, bool) {
	r, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}
