package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dupidx/dupidx/internal/types"
)

func sampleRecord() *types.DuplicateRecord {
	return &types.DuplicateRecord{
		Path:            "photos/2024/trip",
		RepositoryID:    "test-repo-id",
		TotalSize:       4096,
		TotalItems:      3,
		DuplicatedSize:  2048,
		DuplicatedItems: 2,
		Matches: []types.DuplicateMatch{
			{
				Path:            "archive/trip",
				Agreement:       types.MetaAgreement{MTime: true, Mode: true},
				DuplicatedSize:  2048,
				DuplicatedItems: 2,
				Identical:       false,
				Superset:        true,
				Rule:            types.DefaultMatchRule(),
			},
			{
				Path:            "backup/trip",
				Agreement:       types.FullAgreement(),
				DuplicatedSize:  1024,
				DuplicatedItems: 1,
				Rule:            types.DefaultMatchRule(),
			},
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	encoded, err := encodeRecord(rec)
	require.NoError(t, err)
	decoded, err := decodeRecord(encoded)
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestRecordDecodeCorrupt(t *testing.T) {
	rec := sampleRecord()
	encoded, err := encodeRecord(rec)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":           {},
		"bad version":     append([]byte{0xFE}, encoded[1:]...),
		"truncated":       encoded[:len(encoded)/2],
		"huge path count": {reportFormatVersion, 0xC0, 0xFF, 0xFF},
	}
	for name, buf := range cases {
		if _, err := decodeRecord(buf); err == nil {
			t.Errorf("%s: decodeRecord accepted corrupt input", name)
		}
	}
}

func TestPutReportReplaces(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord()
	require.NoError(t, s.PutReport(rec))

	rec.TotalItems = 9
	rec.Matches = rec.Matches[:1]
	require.NoError(t, s.PutReport(rec))

	got, found, err := s.GetReport(rec.Path)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec, got)

	st, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.Reports, "re-analysis must replace, not accumulate")
}

func TestGetReportMissing(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.GetReport("never/analyzed")
	require.NoError(t, err)
	require.False(t, found)
}

func TestForEachReport(t *testing.T) {
	s := newTestStore(t)
	paths := []string{"a", "b/c", "b/d"}
	for _, p := range paths {
		require.NoError(t, s.PutReport(&types.DuplicateRecord{Path: p, RepositoryID: "test-repo-id"}))
	}
	got := map[string]bool{}
	require.NoError(t, s.ForEachReport(func(rec *types.DuplicateRecord) error {
		got[rec.Path] = true
		return nil
	}))
	require.Len(t, got, len(paths))
	for _, p := range paths {
		require.True(t, got[p], "missing report for %s", p)
	}
}

// TestReportKeyPrefixComponents checks that the key hash covers component
// boundaries: "ab/c" and "a/bc" must not share a prefix.
func TestReportKeyPrefixComponents(t *testing.T) {
	p1 := reportKeyPrefix("ab/c")
	p2 := reportKeyPrefix("a/bc")
	require.NotEqual(t, p1, p2)
	require.Len(t, p1, reportKeyPrefixLen)

	// Separator style does not leak into the key.
	require.Equal(t, reportKeyPrefix("a/b"), reportKeyPrefix("a/b/"))
}
