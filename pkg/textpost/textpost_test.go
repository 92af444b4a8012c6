package textpost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessTrimsAndCapitalizes(t *testing.T) {
	got := Process("  hello there. how are you  ", "")
	require.Equal(t, "Hello there. How are you", got)
}

func TestProcessStripsLeadingOkayArtifact(t *testing.T) {
	got := Process("Okay. I would like a coffee", "")
	require.Equal(t, "I would like a coffee", got)
}

func TestProcessNormalizesItIs(t *testing.T) {
	got := Process("It is raining today", "")
	require.Equal(t, "It's raining today", got)
}

func TestProcessCollapsesConsecutiveDuplicateWords(t *testing.T) {
	got := Process("I I want want to to go", "")
	require.Equal(t, "I want to go", got)
}

func TestProcessCollapsesDuplicateAcrossChunkSeam(t *testing.T) {
	// previous chunk ended in "go", new chunk starts with "go" again
	got := Process("go to the store", "I want to go")
	require.Equal(t, "To the store", got)
}

// Idempotence law (§8): applying the post-processor twice equals applying
// it once.
func TestProcessIsIdempotent(t *testing.T) {
	inputs := []string{
		"  hello there. how are you  ",
		"Okay. it is fine",
		"I I want want to to go",
		"THE QUICK brown FOX. jumps! over",
	}
	for _, raw := range inputs {
		once := Process(raw, "")
		twice := Process(once, "")
		require.Equal(t, once, twice, "not idempotent for %q", raw)
	}
}

func TestDiffReturnsOnlyNewSuffix(t *testing.T) {
	last := "Hello there"
	current := "Hello there, how are you"
	require.Equal(t, ", how are you", Diff(last, current))
}

func TestDiffEmptyWhenNoNewText(t *testing.T) {
	require.Equal(t, "", Diff("Hello there", "Hello there"))
}

func TestDiffWholeStringWhenUnrelated(t *testing.T) {
	require.Equal(t, "Goodbye now", Diff("Hello there", "Goodbye now"))
}
