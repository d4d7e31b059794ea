package motion

import (
	"math"
	"sort"
)

type point struct {
	x, y float64
}

// goodFeatures finds Shi-Tomasi corners: pixels whose minimum structure
// tensor eigenvalue is at least quality times the strongest response, local
// maxima in a 3x3 neighbourhood, at least minDistance apart, strongest first.
func goodFeatures(l *level, maxCorners int, quality, minDistance float64, blockSize int) []point {
	w, h := l.img.w, l.img.h
	dx, dy := l.gradients()

	// integral images of the structure tensor terms
	stride := w + 1
	ixx := make([]float64, stride*(h+1))
	ixy := make([]float64, stride*(h+1))
	iyy := make([]float64, stride*(h+1))
	for y := range h {
		var rxx, rxy, ryy float64
		for x := range w {
			gx := float64(dx.pix[y*w+x])
			gy := float64(dy.pix[y*w+x])
			rxx += gx * gx
			rxy += gx * gy
			ryy += gy * gy
			i := (y+1)*stride + x + 1
			ixx[i] = ixx[i-stride] + rxx
			ixy[i] = ixy[i-stride] + rxy
			iyy[i] = iyy[i-stride] + ryy
		}
	}
	boxSum := func(img []float64, x0, y0, x1, y1 int) float64 {
		return img[y1*stride+x1] - img[y0*stride+x1] - img[y1*stride+x0] + img[y0*stride+x0]
	}

	half := blockSize / 2
	eig := make([]float64, w*h)
	var maxEig float64
	for y := range h {
		y0, y1 := max(0, y-half), min(h, y+half+1)
		for x := range w {
			x0, x1 := max(0, x-half), min(w, x+half+1)
			a := boxSum(ixx, x0, y0, x1, y1)
			b := boxSum(ixy, x0, y0, x1, y1)
			c := boxSum(iyy, x0, y0, x1, y1)
			d := (a - c) / 2
			e := (a+c)/2 - math.Sqrt(d*d+b*b)
			eig[y*w+x] = e
			maxEig = max(maxEig, e)
		}
	}
	if maxEig <= 0 {
		return nil
	}

	threshold := quality * maxEig
	type candidate struct {
		x, y int
		v    float64
	}
	var candidates []candidate
	// the outermost ring has no full neighbourhood
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := eig[y*w+x]
			if v < threshold {
				continue
			}
			if !isLocalMax(eig, w, x, y, v) {
				continue
			}
			candidates = append(candidates, candidate{x, y, v})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].v > candidates[j].v })

	minDist2 := minDistance * minDistance
	corners := make([]point, 0, min(maxCorners, len(candidates)))
	for _, c := range candidates {
		p := point{float64(c.x), float64(c.y)}
		tooClose := false
		for _, q := range corners {
			ddx, ddy := p.x-q.x, p.y-q.y
			if ddx*ddx+ddy*ddy < minDist2 {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		corners = append(corners, p)
		if len(corners) == maxCorners {
			break
		}
	}
	return corners
}

func isLocalMax(eig []float64, w, x, y int, v float64) bool {
	for ny := y - 1; ny <= y+1; ny++ {
		for nx := x - 1; nx <= x+1; nx++ {
			if eig[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}
