// Package occlusion decides which tracked nodes are hidden in the current
// frame. A binary object mask is turned into a per-pixel distance field and
// each node is classified by the distance at its projected pixel.
package occlusion

import (
	"github.com/banshee-data/dlotrack/internal/dlo"
)

// Mask is a binary image, row-major, true where the object was segmented.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask returns an empty w×h mask.
func NewMask(w, h int) *Mask {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
}

// In reports whether (col, row) lies inside the image.
func (m *Mask) In(col, row int) bool {
	return col >= 0 && row >= 0 && col < m.Width && row < m.Height
}

// At returns the mask value; pixels outside the image are unset.
func (m *Mask) At(col, row int) bool {
	if !m.In(col, row) {
		return false
	}
	return m.Pix[row*m.Width+col]
}

// Set marks (col, row); out-of-image coordinates are ignored.
func (m *Mask) Set(col, row int) {
	if m.In(col, row) {
		m.Pix[row*m.Width+col] = true
	}
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// MaskFromPoints rasterises each point projecting in front of the camera as
// a filled disc of the given pixel radius. It stands in for the colour
// segmentation that produced the observed cloud.
func MaskFromPoints(points dlo.PointSet, cam dlo.Camera, w, h, radius int) *Mask {
	m := NewMask(w, h)
	if radius < 0 {
		radius = 0
	}
	r2 := radius * radius
	for _, p := range points {
		col, row, ok := cam.Pixel(p)
		if !ok {
			continue
		}
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if dx*dx+dy*dy <= r2 {
					m.Set(col+dx, row+dy)
				}
			}
		}
	}
	return m
}
