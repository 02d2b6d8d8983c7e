package bursts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(base time.Time, offsetSeconds float64) *time.Time {
	t := base.Add(time.Duration(offsetSeconds * float64(time.Second)))
	return &t
}

func TestDetectBursts_FindsRapidSequencePerCamera(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	images := []Image{
		{ID: "1", Camera: "cam-a", CapturedAt: ts(base, 0)},
		{ID: "2", Camera: "cam-a", CapturedAt: ts(base, 0.3)},
		{ID: "3", Camera: "cam-a", CapturedAt: ts(base, 0.6)},
		{ID: "4", Camera: "cam-a", CapturedAt: ts(base, 30)},
		{ID: "5", Camera: "cam-b", CapturedAt: ts(base, 0.1)},
	}

	bursts := DetectBursts(images, time.Second, 3, 500*time.Millisecond)
	assert.Len(t, bursts, 1)
	assert.Equal(t, []string{"1", "2", "3"}, bursts[0].ImageIDs)
	assert.Equal(t, "cam-a", bursts[0].Camera)
	assert.InDelta(t, 0.6, bursts[0].DurationSeconds, 0.001)
}

func TestDetectBursts_IgnoresImagesWithoutCaptureTime(t *testing.T) {
	images := []Image{
		{ID: "1", Camera: "cam-a", CapturedAt: nil},
		{ID: "2", Camera: "cam-a", CapturedAt: nil},
	}
	bursts := DetectBursts(images, time.Second, 2, 0)
	assert.Empty(t, bursts)
}

func TestDetectBursts_RejectsRunsShorterThanMinSize(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	images := []Image{
		{ID: "1", Camera: "cam-a", CapturedAt: ts(base, 0)},
		{ID: "2", Camera: "cam-a", CapturedAt: ts(base, 0.3)},
	}
	bursts := DetectBursts(images, time.Second, 3, 0)
	assert.Empty(t, bursts)
}

func TestDetectBursts_RejectsRunsShorterThanMinDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	images := []Image{
		{ID: "1", Camera: "cam-a", CapturedAt: ts(base, 0)},
		{ID: "2", Camera: "cam-a", CapturedAt: ts(base, 0.1)},
		{ID: "3", Camera: "cam-a", CapturedAt: ts(base, 0.2)},
	}
	bursts := DetectBursts(images, time.Second, 3, 5*time.Second)
	assert.Empty(t, bursts)
}

func TestSelectBestInBurst_First(t *testing.T) {
	images := []Image{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Equal(t, "a", SelectBestInBurst(images, SelectFirst))
}

func TestSelectBestInBurst_Middle(t *testing.T) {
	images := []Image{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Equal(t, "b", SelectBestInBurst(images, SelectMiddle))
}

func TestSelectBestInBurst_Quality(t *testing.T) {
	images := []Image{
		{ID: "a", QualityScore: 10},
		{ID: "b", QualityScore: 90},
		{ID: "c", QualityScore: 40},
	}
	assert.Equal(t, "b", SelectBestInBurst(images, SelectQuality))
}

func TestSelectBestInBurst_EmptyReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", SelectBestInBurst(nil, SelectQuality))
}
