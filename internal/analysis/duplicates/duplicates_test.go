package duplicates

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupByExactMatch_GroupsSharedChecksums(t *testing.T) {
	images := []Image{
		{ID: "a", Checksum: "sum1"},
		{ID: "b", Checksum: "sum1"},
		{ID: "c", Checksum: "sum2"},
		{ID: "d", Checksum: "sum3"},
		{ID: "e", Checksum: "sum3"},
	}

	groups := GroupByExactMatch(images)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.Equal(t, SimilarityExact, g.SimilarityType)
		assert.Equal(t, 100, g.Confidence)
		assert.Len(t, g.ImageIDs, 2)
	}
}

func TestGroupByExactMatch_SkipsMissingChecksums(t *testing.T) {
	images := []Image{
		{ID: "a", Checksum: ""},
		{ID: "b", Checksum: ""},
	}
	groups := GroupByExactMatch(images)
	assert.Empty(t, groups)
}

func TestFindSimilarHashes_GroupsWithinThreshold(t *testing.T) {
	hashes := map[string]string{
		"a": "0000000000000000",
		"b": "0000000000000001",
		"c": "ffffffffffffffff",
	}

	groups, err := FindSimilarHashes(hashes, 2)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	ids := groups[0]
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFindSimilarHashes_TransitiveChainMerges(t *testing.T) {
	hashes := map[string]string{
		"a": "0000000000000000",
		"b": "0000000000000003",
		"c": "0000000000000007",
	}

	groups, err := FindSimilarHashes(hashes, 2)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, groups[0])
}

func TestGroupBySimilarity_ComputesConfidence(t *testing.T) {
	images := []Image{
		{ID: "a", DHash: "0000000000000000"},
		{ID: "b", DHash: "0000000000000000"},
		{ID: "c", DHash: "ffffffffffffffff"},
	}

	groups, err := GroupBySimilarity(images, func(i Image) string { return i.DHash }, 5)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 100, groups[0].Confidence)
	assert.Equal(t, SimilarityPerceptual, groups[0].SimilarityType)
}

func TestGroupBySimilarity_NoHashesReturnsNil(t *testing.T) {
	groups, err := GroupBySimilarity(nil, func(i Image) string { return i.DHash }, 5)
	require.NoError(t, err)
	assert.Nil(t, groups)
}

func TestSelectPrimaryImage_PrefersHighestQuality(t *testing.T) {
	images := []Image{
		{ID: "a", QualityScore: 50, SizeBytes: 1000},
		{ID: "b", QualityScore: 90, SizeBytes: 500},
		{ID: "c", QualityScore: 90, SizeBytes: 900},
	}

	best, err := SelectPrimaryImage(images)
	require.NoError(t, err)
	assert.Equal(t, "c", best)
}

func TestSelectPrimaryImage_EmptyErrors(t *testing.T) {
	_, err := SelectPrimaryImage(nil)
	require.Error(t, err)
}
