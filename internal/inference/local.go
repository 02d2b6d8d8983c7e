package inference

import (
	"context"
	"path/filepath"
	"strings"
)

// LocalTagger is the zero-dependency heuristic backend: it derives tags
// from the image's path (its parent directory name and file name) rather than
// running any model. It never fails and never rate-limits, matching
// the original's "openclip" backend's role as the always-available default
// when no remote API key is configured.
type LocalTagger struct{}

func (t *LocalTagger) Backend() Backend { return BackendLocal }
func (t *LocalTagger) Close() error     { return nil }

func (t *LocalTagger) TagImage(ctx context.Context, imagePath string, threshold float64, maxTags int) ([]Tag, error) {
	dir := filepath.Base(filepath.Dir(imagePath))
	name := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))

	candidates := append(splitWords(dir), splitWords(name)...)

	tags := make([]Tag, 0, maxTags)
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		c = strings.ToLower(c)
		if c == "" || seen[c] || isNumeric(c) {
			continue
		}
		seen[c] = true
		tags = append(tags, Tag{Name: c, Confidence: 50})
		if len(tags) >= maxTags {
			break
		}
	}
	return tags, nil
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
