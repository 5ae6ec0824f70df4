package dlo

import (
	"fmt"
	"math"
)

// Camera is a pinhole projection: a 3×4 matrix (intrinsics times extrinsics)
// stored row-major. It is supplied once at startup from configuration.
type Camera struct {
	P [12]float64
}

// NewCamera builds a Camera from twelve row-major projection entries.
func NewCamera(entries []float64) (Camera, error) {
	if len(entries) != 12 {
		return Camera{}, fmt.Errorf("camera projection needs 12 entries, got %d", len(entries))
	}
	var c Camera
	copy(c.P[:], entries)
	return c, nil
}

// Project maps p to pixel coordinates. ok is false when p projects from
// behind the image plane.
func (c Camera) Project(p Point) (u, v float64, ok bool) {
	x := c.P[0]*p.X + c.P[1]*p.Y + c.P[2]*p.Z + c.P[3]
	y := c.P[4]*p.X + c.P[5]*p.Y + c.P[6]*p.Z + c.P[7]
	w := c.P[8]*p.X + c.P[9]*p.Y + c.P[10]*p.Z + c.P[11]
	if w <= 0 {
		return 0, 0, false
	}
	return x / w, y / w, true
}

// Pixel returns the integer pixel that p falls in. Coordinates left of or
// above the image come back negative.
func (c Camera) Pixel(p Point) (col, row int, ok bool) {
	u, v, ok := c.Project(p)
	if !ok {
		return 0, 0, false
	}
	return int(math.Floor(u)), int(math.Floor(v)), true
}
