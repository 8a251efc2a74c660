package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTolerantOfFormatting(t *testing.T) {
	for _, name := range []string{"Linear Algebra", "linear-algebra", "  LINEAR_ALGEBRA "} {
		e, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "Linear Algebra", e.Name)
		assert.Equal(t, "mathematics", e.Category)
	}

	_, ok := Lookup("underwater basket weaving")
	assert.False(t, ok)
}

func TestAnnotate(t *testing.T) {
	props := Annotate("photosynthesis")
	require.NotNil(t, props)
	assert.Equal(t, "biology", props["category"])
	assert.Equal(t, RoleProcess, props["orp_role"])

	assert.Nil(t, Annotate("nope"))
}

func TestDomainsCoverTable(t *testing.T) {
	domains := Domains()
	assert.Len(t, domains, 14)
	assert.Contains(t, domains, "Calculus")
}
