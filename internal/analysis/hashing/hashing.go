// Package hashing computes perceptual image hashes without any
// orchestration, progress tracking, or store access — pure functions called
// by the detect_duplicates job definition.
//
// Grounded in original_source/lumina/analysis/hashing.py's compute_dhash,
// compute_ahash, compute_whash, hamming_distance, and similarity_score,
// reimplemented over image/draw and golang.org/x/image/draw instead of
// Pillow + pywt + numpy.
package hashing

import (
	"fmt"
	"image"
	"math/bits"
	"sort"

	"golang.org/x/image/draw"
)

// HashSize is the grid dimension used for all three hash variants; an 8x8
// grid yields a 64-bit hash, rendered as 16 hex characters.
const HashSize = 8

// ComputeDHash computes the difference hash: each bit is 1 if the pixel to
// its left is brighter than the one to its right, over a (size+1) x size
// grayscale grid.
func ComputeDHash(img image.Image) (string, error) {
	gray := toGrayscale(img, HashSize+1, HashSize)

	var bitsOut uint64
	idx := uint(0)
	for row := 0; row < HashSize; row++ {
		for col := 0; col < HashSize; col++ {
			left := gray.GrayAt(col, row).Y
			right := gray.GrayAt(col+1, row).Y
			if left > right {
				bitsOut |= 1 << (63 - idx)
			}
			idx++
		}
	}
	return formatHash(bitsOut), nil
}

// ComputeAHash computes the average hash: each bit is 1 if the pixel value
// exceeds the mean of the resized grayscale grid.
func ComputeAHash(img image.Image) (string, error) {
	gray := toGrayscale(img, HashSize, HashSize)

	var sum int
	for y := 0; y < HashSize; y++ {
		for x := 0; x < HashSize; x++ {
			sum += int(gray.GrayAt(x, y).Y)
		}
	}
	avg := float64(sum) / float64(HashSize*HashSize)

	var bitsOut uint64
	idx := uint(0)
	for y := 0; y < HashSize; y++ {
		for x := 0; x < HashSize; x++ {
			if float64(gray.GrayAt(x, y).Y) > avg {
				bitsOut |= 1 << (63 - idx)
			}
			idx++
		}
	}
	return formatHash(bitsOut), nil
}

// ComputeWHash computes the wavelet hash: a single-level 2D Haar DWT is run
// over a (size*4)x(size*4) grayscale grid, the approximation subband is
// resized back down to size x size, and each bit is 1 if the coefficient
// exceeds the subband's median.
func ComputeWHash(img image.Image) (string, error) {
	dim := HashSize * 4
	gray := toGrayscale(img, dim, dim)

	pixels := make([][]float64, dim)
	for y := 0; y < dim; y++ {
		pixels[y] = make([]float64, dim)
		for x := 0; x < dim; x++ {
			pixels[y][x] = float64(gray.GrayAt(x, y).Y)
		}
	}

	approx := haarDWT2D(pixels)
	approxResized := resizeFloatGrid(approx, HashSize, HashSize)

	flat := make([]float64, 0, HashSize*HashSize)
	for _, row := range approxResized {
		flat = append(flat, row...)
	}
	median := medianOf(flat)

	var bitsOut uint64
	idx := uint(0)
	for _, v := range flat {
		if v > median {
			bitsOut |= 1 << (63 - idx)
		}
		idx++
	}
	return formatHash(bitsOut), nil
}

// ComputeAll computes all three hash variants for one decoded image.
func ComputeAll(img image.Image) (dhash, ahash, whash string, err error) {
	dhash, err = ComputeDHash(img)
	if err != nil {
		return "", "", "", fmt.Errorf("dhash: %w", err)
	}
	ahash, err = ComputeAHash(img)
	if err != nil {
		return "", "", "", fmt.Errorf("ahash: %w", err)
	}
	whash, err = ComputeWHash(img)
	if err != nil {
		return "", "", "", fmt.Errorf("whash: %w", err)
	}
	return dhash, ahash, whash, nil
}

// HammingDistance returns the number of differing bits between two 16-hex
// (64-bit) hash strings.
func HammingDistance(hash1, hash2 string) (int, error) {
	if len(hash1) != len(hash2) {
		return 0, fmt.Errorf("hash length mismatch: %d vs %d", len(hash1), len(hash2))
	}
	var v1, v2 uint64
	if _, err := fmt.Sscanf(hash1, "%x", &v1); err != nil {
		return 0, fmt.Errorf("parse hash1: %w", err)
	}
	if _, err := fmt.Sscanf(hash2, "%x", &v2); err != nil {
		return 0, fmt.Errorf("parse hash2: %w", err)
	}
	return bits.OnesCount64(v1 ^ v2), nil
}

// SimilarityScore converts a Hamming distance into a 0-100 similarity
// percentage over a 64-bit hash space: 100 - floor(100*distance/64).
func SimilarityScore(hash1, hash2 string) (int, error) {
	distance, err := HammingDistance(hash1, hash2)
	if err != nil {
		return 0, err
	}
	return 100 - (100*distance)/64, nil
}

func formatHash(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

// toGrayscale resizes img to w x h with Catmull-Rom resampling and converts
// it to grayscale.
func toGrayscale(img image.Image, w, h int) *image.Gray {
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), resized, image.Point{}, draw.Src)
	return gray
}

// haarDWT2D applies one level of the 2D Haar discrete wavelet transform and
// returns the approximation (LL) subband, half the input's dimensions.
func haarDWT2D(pixels [][]float64) [][]float64 {
	h := len(pixels)
	w := len(pixels[0])

	// Horizontal pass: average adjacent column pairs.
	halfW := w / 2
	rowPass := make([][]float64, h)
	for y := 0; y < h; y++ {
		rowPass[y] = make([]float64, halfW)
		for x := 0; x < halfW; x++ {
			a, b := pixels[y][2*x], pixels[y][2*x+1]
			rowPass[y][x] = (a + b) / 2
		}
	}

	// Vertical pass: average adjacent row pairs.
	halfH := h / 2
	approx := make([][]float64, halfH)
	for y := 0; y < halfH; y++ {
		approx[y] = make([]float64, halfW)
		for x := 0; x < halfW; x++ {
			a, b := rowPass[2*y][x], rowPass[2*y+1][x]
			approx[y][x] = (a + b) / 2
		}
	}
	return approx
}

// resizeFloatGrid nearest-neighbor resamples a float grid to w x h, used to
// shrink the DWT approximation subband to the target hash grid.
func resizeFloatGrid(grid [][]float64, w, h int) [][]float64 {
	srcH := len(grid)
	srcW := len(grid[0])

	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		srcY := y * srcH / h
		for x := 0; x < w; x++ {
			srcX := x * srcW / w
			out[y][x] = grid[srcY][srcX]
		}
	}
	return out
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
