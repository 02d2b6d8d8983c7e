package hashing

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			} else {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return img
}

func solidFill(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestComputeAll_ReturnsSixteenHexCharHashes(t *testing.T) {
	img := checkerboard(64, 64)

	dhash, ahash, whash, err := ComputeAll(img)
	require.NoError(t, err)

	assert.Len(t, dhash, 16)
	assert.Len(t, ahash, 16)
	assert.Len(t, whash, 16)
}

func TestComputeAHash_SolidImageHasZeroHash(t *testing.T) {
	img := solidFill(64, 64, 128)
	ahash, err := ComputeAHash(img)
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000", ahash)
}

func TestHammingDistance_IdenticalHashesIsZero(t *testing.T) {
	d, err := HammingDistance("ffffffffffffffff", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestHammingDistance_AllBitsFlippedIsSixtyFour(t *testing.T) {
	d, err := HammingDistance("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 64, d)
}

func TestHammingDistance_LengthMismatchErrors(t *testing.T) {
	_, err := HammingDistance("ff", "ffff")
	require.Error(t, err)
}

func TestSimilarityScore_IdenticalIsHundred(t *testing.T) {
	s, err := SimilarityScore("abcdefabcdefabcd", "abcdefabcdefabcd")
	require.NoError(t, err)
	assert.Equal(t, 100, s)
}

func TestSimilarityScore_AllBitsFlippedIsZero(t *testing.T) {
	s, err := SimilarityScore("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 0, s)
}
