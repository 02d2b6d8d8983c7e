// Package duplicates groups images by exact content match and by perceptual
// hash similarity, and selects a primary image from a group. Pure functions,
// no store or progress-tracking concerns — called by the detect_duplicates
// job definition's finalize step.
//
// Grounded 1:1 in original_source/lumina/analysis/duplicates.py's
// group_by_exact_match, find_similar_hashes (union-find), group_by_similarity,
// and select_primary_image.
package duplicates

import (
	"sort"

	"github.com/irjudson/lumina/internal/analysis/hashing"
)

// SimilarityType distinguishes how a Group's members were determined to
// belong together.
type SimilarityType string

const (
	SimilarityExact      SimilarityType = "exact"
	SimilarityPerceptual SimilarityType = "perceptual"
)

// Group is one cluster of images considered duplicates or near-duplicates.
type Group struct {
	ImageIDs       []string
	SimilarityType SimilarityType
	Confidence     int
}

// Image carries the fields duplicate detection needs from a catalog image
// record.
type Image struct {
	ID           string
	Checksum     string
	DHash        string
	AHash        string
	WHash        string
	SizeBytes    int64
	QualityScore int
}

// GroupByExactMatch partitions images sharing an identical checksum into
// exact-match groups of size > 1.
func GroupByExactMatch(images []Image) []Group {
	byChecksum := make(map[string][]string)
	for _, img := range images {
		if img.Checksum == "" {
			continue
		}
		byChecksum[img.Checksum] = append(byChecksum[img.Checksum], img.ID)
	}

	var groups []Group
	// Stable ordering: iterate checksums sorted so output is deterministic.
	checksums := make([]string, 0, len(byChecksum))
	for c := range byChecksum {
		checksums = append(checksums, c)
	}
	sort.Strings(checksums)

	for _, c := range checksums {
		ids := byChecksum[c]
		if len(ids) > 1 {
			groups = append(groups, Group{ImageIDs: ids, SimilarityType: SimilarityExact, Confidence: 100})
		}
	}
	return groups
}

// FindSimilarHashes groups image ids whose hashes are within threshold
// Hamming distance of one another, via union-find over all pairs.
func FindSimilarHashes(hashes map[string]string, threshold int) ([][]string, error) {
	parent := make(map[string]string, len(hashes))
	for id := range hashes {
		parent[id] = id
	}

	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(x, y string) {
		px, py := find(x), find(y)
		if px != py {
			parent[px] = py
		}
	}

	ids := make([]string, 0, len(hashes))
	for id := range hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			distance, err := hashing.HammingDistance(hashes[ids[i]], hashes[ids[j]])
			if err != nil {
				return nil, err
			}
			if distance <= threshold {
				union(ids[i], ids[j])
			}
		}
	}

	groupsByRoot := make(map[string][]string)
	for _, id := range ids {
		root := find(id)
		groupsByRoot[root] = append(groupsByRoot[root], id)
	}

	var groups [][]string
	for _, root := range ids {
		members, ok := groupsByRoot[root]
		if !ok {
			continue
		}
		delete(groupsByRoot, root)
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	return groups, nil
}

// GroupBySimilarity groups images by similarity of the perceptual hash that
// hashOf returns for each image, computing a confidence score from the
// average pairwise Hamming distance within each group.
func GroupBySimilarity(images []Image, hashOf func(Image) string, threshold int) ([]Group, error) {
	hashes := make(map[string]string)
	for _, img := range images {
		if h := hashOf(img); h != "" {
			hashes[img.ID] = h
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	similarSets, err := FindSimilarHashes(hashes, threshold)
	if err != nil {
		return nil, err
	}

	var groups []Group
	for _, ids := range similarSets {
		totalDist := 0
		comparisons := 0
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				d, err := hashing.HammingDistance(hashes[ids[i]], hashes[ids[j]])
				if err != nil {
					return nil, err
				}
				totalDist += d
				comparisons++
			}
		}

		avgDist := 0.0
		if comparisons > 0 {
			avgDist = float64(totalDist) / float64(comparisons)
		}
		confidence := int(100 * (1 - avgDist/64))
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}

		groups = append(groups, Group{ImageIDs: ids, SimilarityType: SimilarityPerceptual, Confidence: confidence})
	}
	return groups, nil
}

// SelectPrimaryImage picks the best image from a group: highest quality
// score, then largest file size, then lowest id, in that priority order.
func SelectPrimaryImage(images []Image) (string, error) {
	if len(images) == 0 {
		return "", errEmptyGroup
	}

	best := images[0]
	for _, img := range images[1:] {
		if betterThan(img, best) {
			best = img
		}
	}
	return best.ID, nil
}

func betterThan(a, b Image) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}
	return a.ID < b.ID
}

var errEmptyGroup = &emptyGroupError{}

type emptyGroupError struct{}

func (e *emptyGroupError) Error() string { return "cannot select from empty list" }
