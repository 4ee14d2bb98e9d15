package fonts

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListIsSortedAndStable(t *testing.T) {
	list := List()
	assert.NotEmpty(t, list)
	assert.True(t, sort.StringsAreSorted(list))

	// Callers get a copy, not the backing slice.
	list[0] = "Mutated"
	assert.NotEqual(t, "Mutated", List()[0])
}

func TestAllowedIsCaseInsensitive(t *testing.T) {
	assert.True(t, Allowed("Arial"))
	assert.True(t, Allowed("arial"))
	assert.True(t, Allowed("  IMPACT  "))
	assert.False(t, Allowed("Comic Sans XS"))
}

func TestEmptyFamilyIsAllowed(t *testing.T) {
	assert.True(t, Allowed(""))
	assert.True(t, Allowed("   "))
}
