package motion

import "math"

// Gray is an 8-bit single-channel image in row-major order.
type Gray struct {
	Pix    []uint8
	Width  int
	Height int
}

// Tracker finds features in prev and follows them into cur. Both images
// have the same size.
type Tracker interface {
	// Track returns the displacement in pixels of every feature located
	// again in cur, and the number of features found in prev.
	Track(prev, cur Gray) (displacements []float64, features int, err error)
}

// lkTracker is the pure Go tracker used when no other is configured.
type lkTracker struct{}

func (lkTracker) Track(prev, cur Gray) ([]float64, int, error) {
	p0 := buildPyramid(planeFromGray(prev.Pix, prev.Width, prev.Height), pyramidLevels)
	p1 := buildPyramid(planeFromGray(cur.Pix, cur.Width, cur.Height), pyramidLevels)

	corners := goodFeatures(p0.levels[0], maxCorners, qualityLevel, minDistance, blockSize)
	if len(corners) == 0 {
		return nil, 0, nil
	}

	tracked, ok := trackPoints(p0, p1, corners)
	displacements := make([]float64, 0, len(corners))
	for i, c := range corners {
		if ok[i] {
			displacements = append(displacements, math.Hypot(tracked[i].x-c.x, tracked[i].y-c.y))
		}
	}
	return displacements, len(corners), nil
}
