// Package trim estimates the content box of a rendered page bitmap so
// composites can crop away blank margins before placing the page in a cell.
package trim

import "image"

// DefaultThreshold separates content from paper background on the 0-255
// channel scale. A pixel counts as content when its darkest channel falls
// below the threshold, which also catches saturated color on white.
const DefaultThreshold = 245

// DefaultPadPx widens the detected box so glyph antialiasing at the edges
// is not clipped.
const DefaultPadPx = 2

// ContentBounds scans the bitmap for pixels darker than threshold and
// returns their bounding box, padded by pad pixels and clamped to the image
// bounds. A blank page returns the full bounds unchanged, so callers can
// apply the result without a blank-page special case.
func ContentBounds(img image.Image, threshold uint8, pad int) image.Rectangle {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X - 1, b.Min.Y - 1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			m := r
			if g < m {
				m = g
			}
			if bl < m {
				m = bl
			}
			if uint8(m>>8) < threshold {
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < minX {
		return b
	}
	box := image.Rect(minX-pad, minY-pad, maxX+1+pad, maxY+1+pad)
	return box.Intersect(b)
}

// Crop returns the sub-image for box when the bitmap supports cropping and
// the original image otherwise. The sub-image shares pixels with the
// original; it is a view, not a copy.
func Crop(img image.Image, box image.Rectangle) image.Image {
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if box == img.Bounds() {
		return img
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(box)
	}
	return img
}
