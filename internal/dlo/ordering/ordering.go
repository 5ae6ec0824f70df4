// Package ordering turns an unordered point set into a single spatially
// ordered chain along a roughly one-dimensional object.
//
// The chain starts at input index 0. Its nearest neighbour fixes a
// tentative direction; the chain is then grown one point at a time from
// its tail, always taking the nearest remaining point that lies beyond the
// tail (negative dot product against the previous link) and within
// MaxStep. When the start point also has such a neighbour on the far side
// it is an interior point and the chain is grown from its head as well.
//
// Points that cannot be reached before growth terminates are dropped from
// the output. Callers that need every point must check the returned
// length.
package ordering

import (
	"math"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// DefaultMaxStep is the largest distance between consecutive chain points
// at the default sensor scale (metres).
const DefaultMaxStep = 0.02

// Options controls chain growth.
type Options struct {
	// MaxStep is the largest accepted distance between a chain end and the
	// next point. Values <= 0 fall back to DefaultMaxStep.
	MaxStep float64
}

// growthState is the state of one end of the chain while it is extended.
type growthState int

const (
	stateSearching growthState = iota
	stateExtending
	stateTerminated
)

func (s growthState) String() string {
	switch s {
	case stateSearching:
		return "searching"
	case stateExtending:
		return "extending"
	case stateTerminated:
		return "terminated"
	}
	return "unknown"
}

// chain is the working state of a sort: the indices placed so far (head
// first) and which indices are already taken. Nearest-point searches go
// through a kd-tree built once over pts.
type chain struct {
	pts     dlo.PointSet
	tree    *dlo.Tree
	maxStep float64
	order   []int
	taken   []bool
	left    int
}

// Sort returns a permutation of indices into pts forming a single chain
// with no index repeated. The result may be shorter than pts when growth
// terminates early; see the package documentation.
func Sort(pts dlo.PointSet, opts Options) []int {
	switch len(pts) {
	case 0:
		return nil
	case 1:
		return []int{0}
	}

	maxStep := opts.MaxStep
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}

	c := &chain{
		pts:     pts,
		tree:    dlo.NewTree(pts),
		maxStep: maxStep,
		order:   []int{0},
		taken:   make([]bool, len(pts)),
		left:    len(pts),
	}
	c.take(0)

	// The nearest neighbour of the start is accepted unconditionally.
	first := c.closest(0)
	c.take(first)
	c.order = append(c.order, first)

	// Decide up front whether the start is interior: it is when a point on
	// the far side of it (away from first) lies within reach.
	_, interior := c.oppositeClosest(0, first)

	c.grow(false)
	if interior {
		c.grow(true)
	}

	if dropped := len(pts) - len(c.order); dropped > 0 {
		dlo.Opsf("ordering: chain terminated early: %d of %d points dropped", dropped, len(pts))
	}
	return c.order
}

// SortPoints is Sort followed by a gather of the points in chain order.
func SortPoints(pts dlo.PointSet, opts Options) dlo.PointSet {
	return pts.Subset(Sort(pts, opts))
}

// grow extends the chain from its tail (or head when atHead) until no
// qualifying point remains.
func (c *chain) grow(atHead bool) {
	state := stateSearching
	next := -1
	for state != stateTerminated {
		switch state {
		case stateSearching:
			if c.left == 0 || len(c.order) < 2 {
				state = stateTerminated
				continue
			}
			target, reference := c.ends(atHead)
			idx, found := c.oppositeClosest(target, reference)
			if !found {
				state = stateTerminated
				continue
			}
			next = idx
			state = stateExtending
		case stateExtending:
			c.take(next)
			if atHead {
				c.order = append([]int{next}, c.order...)
			} else {
				c.order = append(c.order, next)
			}
			state = stateSearching
		}
	}
}

// ends returns the chain end being grown and its neighbour along the chain.
func (c *chain) ends(atHead bool) (target, reference int) {
	if atHead {
		return c.order[0], c.order[1]
	}
	n := len(c.order)
	return c.order[n-1], c.order[n-2]
}

// closest returns the remaining index nearest to pts[target]. Ties go to
// the lower index.
func (c *chain) closest(target int) int {
	idx, _ := c.tree.Nearest(c.pts[target], math.Inf(1), c.free)
	return idx
}

// oppositeClosest returns the nearest remaining point that lies on the far
// side of pts[target] from pts[reference] and within maxStep of target.
func (c *chain) oppositeClosest(target, reference int) (int, bool) {
	origin := c.pts[target]
	direction := c.pts[reference].Sub(origin)
	beyond := func(idx int) bool {
		return c.free(idx) && c.pts[idx].Sub(origin).Dot(direction) < 0
	}
	idx, _ := c.tree.Nearest(origin, c.maxStep*c.maxStep, beyond)
	return idx, idx >= 0
}

func (c *chain) free(idx int) bool { return !c.taken[idx] }

// take marks idx as placed.
func (c *chain) take(idx int) {
	if !c.taken[idx] {
		c.taken[idx] = true
		c.left--
	}
}
