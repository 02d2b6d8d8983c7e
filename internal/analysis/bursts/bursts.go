// Package bursts detects rapid-fire sequences of photos taken on the same
// camera within a short time window, and selects the best image from a
// detected burst. Pure functions, no store or progress-tracking concerns —
// called by the detect_bursts job definition.
//
// Grounded 1:1 in original_source/lumina/analysis/bursts.py's detect_bursts,
// _find_sequences, _make_burst, and select_best_in_burst.
package bursts

import (
	"sort"
	"time"
)

// SelectionMethod controls how SelectBestInBurst picks the representative
// image from a burst.
type SelectionMethod string

const (
	SelectFirst   SelectionMethod = "first"
	SelectMiddle  SelectionMethod = "middle"
	SelectQuality SelectionMethod = "quality"
)

// Image carries the fields burst detection needs from a catalog image
// record. CapturedAt is the nil pointer when the capture time is unreliable
// or unknown, matching the Python original's None checks.
type Image struct {
	ID           string
	Camera       string
	CapturedAt   *time.Time
	QualityScore int
}

// Burst is one detected sequence of images captured in rapid succession on
// the same camera.
type Burst struct {
	ImageIDs        []string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	Camera          string
}

// DetectBursts groups images by camera, sorts each group by capture time,
// and finds runs of consecutive images whose gaps never exceed
// gapThreshold, are at least minSize long, and span at least minDuration.
func DetectBursts(images []Image, gapThreshold time.Duration, minSize int, minDuration time.Duration) []Burst {
	byCamera := make(map[string][]Image)
	for _, img := range images {
		if img.CapturedAt == nil {
			continue
		}
		byCamera[img.Camera] = append(byCamera[img.Camera], img)
	}

	cameras := make([]string, 0, len(byCamera))
	for camera := range byCamera {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)

	var all []Burst
	for _, camera := range cameras {
		group := byCamera[camera]
		sort.Slice(group, func(i, j int) bool {
			return group[i].CapturedAt.Before(*group[j].CapturedAt)
		})
		all = append(all, findSequences(group, gapThreshold, minSize, minDuration)...)
	}
	return all
}

// findSequences walks a camera's capture-time-sorted images, accumulating a
// run while consecutive gaps stay within gapThreshold, and closing the run
// into a Burst whenever the gap is exceeded or the list ends.
func findSequences(sorted []Image, gapThreshold time.Duration, minSize int, minDuration time.Duration) []Burst {
	var sequences []Burst
	var current []Image

	for i, img := range sorted {
		if len(current) == 0 {
			current = append(current, img)
			continue
		}
		prev := current[len(current)-1]
		gap := img.CapturedAt.Sub(*prev.CapturedAt)
		if gap <= gapThreshold {
			current = append(current, img)
		} else {
			if len(current) >= minSize {
				if b, ok := makeBurst(current, minDuration); ok {
					sequences = append(sequences, b)
				}
			}
			current = []Image{img}
		}
		if i == len(sorted)-1 && len(current) >= minSize {
			if b, ok := makeBurst(current, minDuration); ok {
				sequences = append(sequences, b)
			}
		}
	}
	return sequences
}

// makeBurst builds a Burst from a run of images, rejecting runs whose
// duration falls short of minDuration.
func makeBurst(images []Image, minDuration time.Duration) (Burst, bool) {
	if len(images) < 2 {
		return Burst{}, false
	}

	start := *images[0].CapturedAt
	end := *images[len(images)-1].CapturedAt
	duration := end.Sub(start)
	if duration < minDuration {
		return Burst{}, false
	}

	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}

	return Burst{
		ImageIDs:        ids,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: duration.Seconds(),
		Camera:          images[0].Camera,
	}, true
}

// SelectBestInBurst picks the representative image for a burst according to
// method. Quality is the default when method is unrecognized.
func SelectBestInBurst(images []Image, method SelectionMethod) string {
	if len(images) == 0 {
		return ""
	}

	switch method {
	case SelectFirst:
		return images[0].ID
	case SelectMiddle:
		return images[len(images)/2].ID
	default:
		best := images[0]
		for _, img := range images[1:] {
			if img.QualityScore > best.QualityScore {
				best = img
			}
		}
		return best.ID
	}
}
