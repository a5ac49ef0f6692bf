package imagestore

import (
	"bytes"
	"image"
	"image/draw"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// FingerprintLength is the bit length of a perceptual fingerprint,
// stored as a row-major '0'/'1' string.
const FingerprintLength = 64

const hashGrid = 8

var zeroFingerprint = strings.Repeat("0", FingerprintLength)

// Fingerprint computes the perceptual fingerprint of an encoded image:
// single-intensity channel, smooth-resampled to an 8x8 grid, each cell
// thresholded against the grid mean. Any decode failure degrades to the
// all-zero fingerprint instead of an error, so one malformed image can
// never abort a batch.
func Fingerprint(payload []byte) string {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return zeroFingerprint
	}

	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)

	cells := image.NewGray(image.Rect(0, 0, hashGrid, hashGrid))
	xdraw.CatmullRom.Scale(cells, cells.Bounds(), gray, gray.Bounds(), xdraw.Src, nil)

	sum := 0
	for _, px := range cells.Pix {
		sum += int(px)
	}
	mean := float64(sum) / float64(hashGrid*hashGrid)

	var b strings.Builder
	b.Grow(FingerprintLength)
	for _, px := range cells.Pix {
		if float64(px) > mean {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// HammingDistance counts the differing positions of two fingerprints,
// compared over the shorter length.
func HammingDistance(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}

// MaxDistance derives the admission cutoff from a similarity threshold
// in [0, 1]: fingerprints within the cutoff count as near-duplicates.
func MaxDistance(threshold float64) int {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return int(float64(FingerprintLength) * (1 - threshold))
}
