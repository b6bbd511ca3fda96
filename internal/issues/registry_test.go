package issues

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "known-issues.json"))
}

func TestAddDeduplicates(t *testing.T) {
	r := newTestRegistry(t)

	added, err := r.Add(1, []KnownIssue{
		{Description: "SQL injection in search filter", Severity: SeverityCritical, Source: SourceSemgrep, FilePath: "app/api/search.ts"},
		{Description: "sql INJECTION in search filter", Severity: SeverityHigh, Source: SourceCodexReview, FilePath: "app/api/search.ts"},
		{Description: "missing auth check", Severity: SeverityHigh, Source: SourceFlowTracing, FilePath: "app/api/admin.ts"},
	})
	require.NoError(t, err)
	// The second entrant collides on the case-insensitive key.
	assert.Equal(t, 2, added)

	list, err := r.Load()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAddIdempotentWithAlreadyKnown(t *testing.T) {
	r := newTestRegistry(t)

	first := []KnownIssue{
		{Description: "race on session counter", Severity: SeverityMedium, Source: SourceFlowTracing, FilePath: "src/session.go"},
	}
	_, err := r.Add(1, first)
	require.NoError(t, err)

	// Re-adding the same findings plus a new one adds only the new one.
	added, err := r.Add(2, append(first,
		KnownIssue{Description: "unbounded retry loop", Severity: SeverityLow, Source: SourceSentinel, FilePath: "src/retry.go"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	list, err := r.Load()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDedupKeyTruncatesAt80(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	k1 := DedupKey("f.go", string(long))
	k2 := DedupKey("f.go", string(long[:80])+"completely different tail")
	assert.Equal(t, k1, k2)
}

func TestMarkAddressedAndUnresolved(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Add(1, []KnownIssue{
		{Description: "finding one", Severity: SeverityCritical, Source: SourceFlowTracing, FilePath: "a.ts"},
		{Description: "finding two", Severity: SeverityLow, Source: SourceSemgrep, FilePath: "b.ts"},
	})
	require.NoError(t, err)

	list, err := r.Load()
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, r.MarkAddressed([]string{list[0].ID}, 2))

	unresolved, err := r.Unresolved()
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "finding two", unresolved[0].Description)

	list, err = r.Load()
	require.NoError(t, err)
	require.NotNil(t, list[0].AddressedInCycle)
	assert.Equal(t, 2, *list[0].AddressedInCycle)
	assert.True(t, list[0].Addressed)
}

func TestEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t)
	list, err := r.Load()
	require.NoError(t, err)
	assert.Empty(t, list)

	unresolved, err := r.Unresolved()
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}
