package motion

import "math"

const (
	winSize      = 15
	winHalf      = winSize / 2
	maxIters     = 10
	epsilon      = 0.03
	minEigenThre = 1e-6
)

// trackPoints runs pyramidal Lucas-Kanade from prev to next for each point.
// It returns the tracked positions and a per-point success flag.
func trackPoints(prev, next *pyramid, pts []point) ([]point, []bool) {
	out := make([]point, len(pts))
	ok := make([]bool, len(pts))
	top := min(len(prev.levels), len(next.levels)) - 1

	for i, p0 := range pts {
		var gx, gy float64
		lost := false

		for lvl := top; lvl >= 0; lvl-- {
			scale := math.Ldexp(1, -lvl)
			px, py := p0.x*scale, p0.y*scale
			dx, dy, good := trackLevel(prev.levels[lvl], next.levels[lvl], px, py, gx, gy)
			if !good {
				lost = true
				break
			}
			if lvl > 0 {
				gx, gy = 2*(gx+dx), 2*(gy+dy)
			} else {
				gx, gy = gx+dx, gy+dy
			}
		}
		if lost {
			continue
		}

		p1 := point{p0.x + gx, p0.y + gy}
		w, h := float64(prev.width()), float64(prev.height())
		if p1.x < 0 || p1.y < 0 || p1.x > w-1 || p1.y > h-1 {
			continue
		}
		out[i] = p1
		ok[i] = true
	}
	return out, ok
}

// trackLevel solves for the residual displacement at one pyramid level,
// starting from the guess (gx, gy) propagated from the coarser level.
func trackLevel(prev, next *level, px, py, gx, gy float64) (float64, float64, bool) {
	w, h := float64(prev.img.w), float64(prev.img.h)
	if px < 0 || py < 0 || px > w-1 || py > h-1 {
		return 0, 0, false
	}

	ix, iy := prev.gradients()
	var (
		patch [winSize * winSize]float32
		gradX [winSize * winSize]float32
		gradY [winSize * winSize]float32
	)
	var gxx, gxy, gyy float64
	k := 0
	for wy := -winHalf; wy <= winHalf; wy++ {
		for wx := -winHalf; wx <= winHalf; wx++ {
			sx, sy := px+float64(wx), py+float64(wy)
			patch[k] = prev.img.sample(sx, sy)
			a := ix.sample(sx, sy)
			b := iy.sample(sx, sy)
			gradX[k], gradY[k] = a, b
			gxx += float64(a * a)
			gxy += float64(a * b)
			gyy += float64(b * b)
			k++
		}
	}

	det := gxx*gyy - gxy*gxy
	d := (gxx - gyy) / 2
	minEig := ((gxx+gyy)/2 - math.Sqrt(d*d+gxy*gxy)) / float64(winSize*winSize)
	if minEig < minEigenThre || det < 1e-12 {
		return 0, 0, false
	}

	var vx, vy float64
	for range maxIters {
		qx, qy := px+gx+vx, py+gy+vy
		if qx < -winHalf || qy < -winHalf || qx > w-1+winHalf || qy > h-1+winHalf {
			return 0, 0, false
		}

		var bx, by float64
		k = 0
		for wy := -winHalf; wy <= winHalf; wy++ {
			for wx := -winHalf; wx <= winHalf; wx++ {
				diff := float64(patch[k] - next.img.sample(qx+float64(wx), qy+float64(wy)))
				bx += diff * float64(gradX[k])
				by += diff * float64(gradY[k])
				k++
			}
		}

		ux := (gyy*bx - gxy*by) / det
		uy := (gxx*by - gxy*bx) / det
		vx += ux
		vy += uy
		if ux*ux+uy*uy < epsilon*epsilon {
			break
		}
	}
	return vx, vy, true
}
