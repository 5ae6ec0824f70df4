package occlusion

import (
	"math"
)

// edtInf stands in for "no mask pixel" inside the 1-D transform.
const edtInf = 1e20

// Field is the Euclidean distance, in pixels, from every pixel to the
// nearest mask pixel. Max is the normalisation scale.
type Field struct {
	Width  int
	Height int
	Max    float64
	dist   []float64
}

// DistanceTransform computes the exact Euclidean distance transform of m
// using the separable lower-envelope algorithm (columns, then rows). Mask
// pixels are at distance 0. When the mask is empty every distance, and Max,
// is +Inf.
func DistanceTransform(m *Mask) *Field {
	w, h := m.Width, m.Height
	f := &Field{Width: w, Height: h, dist: make([]float64, w*h)}
	if w == 0 || h == 0 {
		return f
	}

	n := w
	if h > n {
		n = h
	}
	in := make([]float64, n)
	out := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for col := 0; col < w; col++ {
		for row := 0; row < h; row++ {
			if m.Pix[row*w+col] {
				in[row] = 0
			} else {
				in[row] = edtInf
			}
		}
		lowerEnvelope(in[:h], out[:h], v, z)
		for row := 0; row < h; row++ {
			f.dist[row*w+col] = out[row]
		}
	}
	for row := 0; row < h; row++ {
		copy(in[:w], f.dist[row*w:(row+1)*w])
		lowerEnvelope(in[:w], out[:w], v, z)
		copy(f.dist[row*w:(row+1)*w], out[:w])
	}

	for i, d := range f.dist {
		if d >= edtInf/2 {
			f.dist[i] = math.Inf(1)
		} else {
			f.dist[i] = math.Sqrt(d)
		}
		if f.dist[i] > f.Max {
			f.Max = f.dist[i]
		}
	}
	return f
}

// lowerEnvelope writes the squared 1-D distance transform of samples f into
// d. v and z are scratch of length ≥ len(f) and len(f)+1.
func lowerEnvelope(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// intersect returns the abscissa where the parabolas rooted at q and p meet.
func intersect(f []float64, q, p int) float64 {
	fq, fp := float64(q), float64(p)
	return ((f[q] + fq*fq) - (f[p] + fp*fp)) / (2*fq - 2*fp)
}

// Distance returns the pixel distance at (col, row); ok is false outside the
// image.
func (f *Field) Distance(col, row int) (float64, bool) {
	if f == nil || col < 0 || row < 0 || col >= f.Width || row >= f.Height {
		return 0, false
	}
	return f.dist[row*f.Width+col], true
}

// At returns the distance at (col, row) normalised by Max into [0, 1].
func (f *Field) At(col, row int) float64 {
	d, ok := f.Distance(col, row)
	if !ok {
		return 1
	}
	switch {
	case math.IsInf(f.Max, 1):
		if math.IsInf(d, 1) {
			return 1
		}
		return 0
	case f.Max == 0:
		return 0
	}
	return d / f.Max
}
