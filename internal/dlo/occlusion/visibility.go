package occlusion

import (
	"github.com/banshee-data/dlotrack/internal/dlo"
)

// Classify splits node indices into visible and occluded. A node is
// occluded when it projects behind the camera or outside the image, or
// when its pixel is at least threshold pixels from the object mask. A nil
// field leaves every node visible.
func Classify(nodes dlo.PointSet, cam dlo.Camera, field *Field, threshold float64) (visible, occluded []int) {
	visible = make([]int, 0, len(nodes))
	if field == nil {
		for i := range nodes {
			visible = append(visible, i)
		}
		return visible, nil
	}
	for i, p := range nodes {
		if isVisible(p, cam, field, threshold) {
			visible = append(visible, i)
		} else {
			occluded = append(occluded, i)
		}
	}
	return visible, occluded
}

func isVisible(p dlo.Point, cam dlo.Camera, field *Field, threshold float64) bool {
	col, row, ok := cam.Pixel(p)
	if !ok {
		return false
	}
	d, ok := field.Distance(col, row)
	if !ok {
		return false
	}
	return d < threshold
}
