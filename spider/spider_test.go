package spider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/engine"
)

func TestRegisterAndLookupRoundTrip(t *testing.T) {
	def := &Definition{Name: "test-spider-a", Callbacks: engine.Callbacks{}}
	Register(def)

	got, ok := Lookup("test-spider-a")
	require.True(t, ok)
	require.Same(t, def, got)
}

func TestLookupMissingReportsFalse(t *testing.T) {
	_, ok := Lookup("does-not-exist")
	require.False(t, ok)
}

func TestNamesIncludesRegisteredSpidersSorted(t *testing.T) {
	Register(&Definition{Name: "test-spider-z"})
	Register(&Definition{Name: "test-spider-b"})

	names := Names()
	zIdx, bIdx := -1, -1
	for i, n := range names {
		if n == "test-spider-z" {
			zIdx = i
		}
		if n == "test-spider-b" {
			bIdx = i
		}
	}
	require.NotEqual(t, -1, zIdx)
	require.NotEqual(t, -1, bIdx)
	require.Less(t, bIdx, zIdx, "Names should come back sorted")
}

func TestMustLookupPanicsOnMissingName(t *testing.T) {
	require.Panics(t, func() {
		MustLookup("definitely-not-registered")
	})
}

func TestMustLookupReturnsRegisteredDefinition(t *testing.T) {
	def := &Definition{Name: "test-spider-c"}
	Register(def)
	require.Same(t, def, MustLookup("test-spider-c"))
}

func TestQuickstartSpiderIsRegisteredAtInit(t *testing.T) {
	_, ok := Lookup("quickstart")
	require.True(t, ok, "the quickstart spider should self-register via its init()")
}
